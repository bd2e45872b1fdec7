package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
)

type listResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Count   int    `json:"count"`
	Active  []struct {
		Address string `json:"address"`
		Errors  int    `json:"errors"`
	} `json:"active"`
	Former []string `json:"former"`
}

func main() {
	baseURL := getenvDefault("QUICKML_URL", "http://localhost:8025")
	smtpAddr := getenvDefault("QUICKML_SMTP", "localhost:10025")
	domain := getenvDefault("QUICKML_DOMAIN", "localhost")

	listAddr := "demo@" + domain
	alice := "alice@example.com"
	bob := "bob@example.com"

	fmt.Println("Creating", listAddr, "as", alice)
	send(smtpAddr, alice, []string{listAddr}, buildMessage(alice, listAddr, "", "Hello", "A new list.\n"))

	fmt.Println("Adding", bob, "with Cc")
	send(smtpAddr, alice, []string{listAddr, bob}, buildMessage(alice, listAddr, bob, "Welcome Bob", "Bob joins us.\n"))

	fmt.Println("Posting as", bob)
	send(smtpAddr, bob, []string{listAddr}, buildMessage(bob, listAddr, "", "Re: Welcome Bob", "Thanks!\n"))

	time.Sleep(500 * time.Millisecond)
	printList(baseURL, "demo")

	fmt.Println("Unsubscribing", bob)
	send(smtpAddr, bob, []string{listAddr}, buildMessage(bob, listAddr, "", "bye", ""))

	time.Sleep(500 * time.Millisecond)
	printList(baseURL, "demo")
}

func send(addr, from string, to []string, msg []byte) {
	if err := smtp.SendMail(addr, nil, from, to, strings.NewReader(string(msg))); err != nil {
		fmt.Fprintln(os.Stderr, "smtp error:", err)
	}
}

func buildMessage(from, to, cc, subject, body string) []byte {
	headers := []string{
		"From: " + from,
		"To: " + to,
	}
	if cc != "" {
		headers = append(headers, "Cc: "+cc)
	}
	headers = append(headers,
		"Subject: "+subject,
		"Date: "+time.Now().Format(time.RFC1123Z),
		"Content-Type: text/plain; charset=us-ascii",
		"",
		body,
	)
	return []byte(strings.Join(headers, "\r\n"))
}

func printList(baseURL, name string) {
	resp, err := http.Get(baseURL + "/api/lists/" + name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "http error:", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		fmt.Println("list", name, "is closed")
		return
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "request failed: %s\n", b)
		return
	}
	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		return
	}
	fmt.Printf("%s count=%d\n", out.Address, out.Count)
	for _, member := range out.Active {
		fmt.Printf("- %s errors=%d\n", member.Address, member.Errors)
	}
	for _, member := range out.Former {
		fmt.Printf("- %s (former)\n", member)
	}
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
