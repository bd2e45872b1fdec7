package i18n

// Templates of generated mail text. They double as catalog keys.
const (
	ErrorSubject        = "[QuickML] Error: %s"
	TooLargeBody        = "Sorry, your mail exceeds the limitation of the length.\n"
	MaxLength           = "The max length is %s bytes.\n\n"
	MembersOf           = "Members of <%s>:\n"
	HowToUnsubscribe    = "How to unsubscribe from the ML:\n"
	SendEmpty           = "- Just send an empty message to <%s>.\n"
	CannotSendEmpty     = "- Or, if you cannot send an empty message for some reason,\n"
	SendUnsubscribe     = "  please send a message just saying 'unsubscribe' to <%s>.\n"
	UnsubscribeExamples = "  (e.g., hotmail's advertisement, signature, etc.)\n"
	NewMember           = "New Member: %s\n"
	Info                = "Info: %s\n"
	ConfirmSubject      = "[%s] Confirmation: %s"
	ConfirmBody         = "Please simply reply this mail to create ML <%s>.\n"
	RemovedSubject      = "[%s] Removed: <%s>"
	RemovedBody         = "<%s> was removed from the mailing list:\n<%s>\n"
	Unreachable         = "because the address was unreachable.\n"
	CloseSoonSubject    = "[%s] ML will be closed soon"
	CloseDateFormat     = "%Y-%m-%d %H:%M"
	CloseSoonBody       = "ML will be closed if no article is posted for %d days.\n\n"
	TimeToClose         = "Time to close: %s.\n\n"
	NotMember           = "You are not a member of the mailing list:\n<%s>\n"
	DifferentAddress    = "Did you send a mail with a different address from the address registered in the mailing list?\n"
	CheckFrom           = "Please check your 'From:' address.\n"
	OriginalMessage     = "----- Original Message -----\n"
	UnsubscribeSubject  = "[%s] Unsubscribe: %s"
	RemovedByRequest    = "You are removed from the mailing list:\n<%s>\n"
	ByRequestOf         = "by the request of <%s>.\n"
	Unsubscribed        = "You have unsubscribed from the mailing list:\n<%s>.\n"
	TooManyMembers      = "The following addresses cannot be added because <%s> mailing list reaches the max number of members (%d persons)\n\n"
	KnownMembersOnly    = "The following addresses cannot be added because <%s> mailing list can join known members only.\n\n"
	InvalidName         = "Invalid mailing list name: <%s>\n"
	NameCharacters      = "You can only use 0-9, a-z, A-Z,  `.',  `-', and `_' for mailing list name\n"
	InvalidCreator      = "Invalid Creator: <%s> by <%s>.\n"
	InvalidSender       = "Invalid Sender: <%s> by <%s>.\n"
)

var japanese = map[string]string{
	ErrorSubject:        "[QuickML] エラー: %s",
	TooLargeBody:        "メールが長すぎるため送信できませんでした。\n",
	MaxLength:           "メールの最大の長さは %s バイトです。\n\n",
	MembersOf:           "<%s> のメンバー:\n",
	HowToUnsubscribe:    "メーリングリストの退会方法:\n",
	SendEmpty:           "- <%s> に空のメールを送ってください。\n",
	CannotSendEmpty:     "- 空のメールが送れない場合は、\n",
	SendUnsubscribe:     "  「unsubscribe」とだけ書いたメールを <%s> に送ってください。\n",
	UnsubscribeExamples: "  (署名や広告が自動的に付加される場合など)\n",
	NewMember:           "新メンバー: %s\n",
	Info:                "案内: %s\n",
	ConfirmSubject:      "[%s] 確認: %s",
	ConfirmBody:         "メーリングリスト <%s> を作成するには、このメールにそのまま返信してください。\n",
	RemovedSubject:      "[%s] 削除: <%s>",
	RemovedBody:         "<%s> をメーリングリスト\n<%s>\nから削除しました。\n",
	Unreachable:         "このアドレスにはメールが届かないためです。\n",
	CloseSoonSubject:    "[%s] メーリングリストはまもなく終了します",
	CloseDateFormat:     "%Y年%m月%d日 %H時%M分",
	CloseSoonBody:       "このメーリングリストは、あと %d 日以内に投稿がなければ終了します。\n\n",
	TimeToClose:         "終了予定日時: %s\n\n",
	NotMember:           "あなたはメーリングリスト\n<%s>\nのメンバーではありません。\n",
	DifferentAddress:    "メーリングリストに登録したアドレスとは別のアドレスから送信しませんでしたか?\n",
	CheckFrom:           "From: のアドレスを確認してください。\n",
	OriginalMessage:     "----- 元のメール -----\n",
	UnsubscribeSubject:  "[%s] 退会: %s",
	RemovedByRequest:    "あなたはメーリングリスト\n<%s>\nから削除されました。\n",
	ByRequestOf:         "<%s> の依頼によるものです。\n",
	Unsubscribed:        "メーリングリスト\n<%s>\nから退会しました。\n",
	TooManyMembers:      "<%s> はメンバーの上限 (%d 人) に達しているため、以下のアドレスを追加できませんでした。\n\n",
	KnownMembersOnly:    "<%s> には登録済みのメンバーしか参加できないため、以下のアドレスを追加できませんでした。\n\n",
	InvalidName:         "メーリングリスト名が正しくありません: <%s>\n",
	NameCharacters:      "メーリングリスト名には 0-9, a-z, A-Z, 「.」, 「-」, 「_」だけが使えます。\n",
	InvalidCreator:      "メーリングリストを作成できません: <%s> (作成者 <%s>)\n",
	InvalidSender:       "送信者が許可されていません: <%s> (送信者 <%s>)\n",
}
