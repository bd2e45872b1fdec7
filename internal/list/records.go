package list

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.io/infrasutra/quickml/internal/config"
)

var (
	formerLinePattern = regexp.MustCompile(`^# (.*)`)
	errorLinePattern  = regexp.MustCompile(`^; (.*?) (\d+)(?: (\d+))?`)
)

// membership is the decoded members record.
type membership struct {
	active AddressSet
	former AddressSet
	errors errorTable
}

// decodeMembers parses the members record. Each line is an active address,
// "# addr" for a former member or "; addr count epoch" for a bounce counter.
func decodeMembers(data []byte) membership {
	m := membership{errors: newErrorTable()}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if match := formerLinePattern.FindStringSubmatch(line); match != nil {
			m.former.Insert(match[1])
			continue
		}
		if match := errorLinePattern.FindStringSubmatch(line); match != nil {
			count, _ := strconv.Atoi(match[2])
			last := time.Unix(0, 0)
			if match[3] != "" {
				epoch, _ := strconv.ParseInt(match[3], 10, 64)
				last = time.Unix(epoch, 0)
			}
			m.errors.set(match[1], ErrorInfo{Count: count, LastErrorTime: last})
			continue
		}
		m.active.Insert(line)
	}
	return m
}

func encodeMembers(m membership) []byte {
	var b strings.Builder
	for _, address := range m.active.items {
		b.WriteString(address)
		b.WriteByte('\n')
	}
	for _, address := range m.former.items {
		b.WriteString("# ")
		b.WriteString(address)
		b.WriteByte('\n')
	}
	m.errors.each(func(address string, info ErrorInfo) {
		fmt.Fprintf(&b, "; %s %d %d\n", address, info.Count, info.LastErrorTime.Unix())
	})
	return []byte(b.String())
}

// Limits are the per-list settings that a config record may override.
type Limits struct {
	MaxMembers           int
	MaxMailLength        int64
	LifeTime             time.Duration
	AlertTime            time.Duration
	AutoUnsubscribeCount int
}

func DefaultLimits(cfg *config.Config) Limits {
	return Limits{
		MaxMembers:           cfg.MaxMembers,
		MaxMailLength:        int64(cfg.MaxMailLength),
		LifeTime:             cfg.MLLifeTime,
		AlertTime:            cfg.MLAlertTime,
		AutoUnsubscribeCount: cfg.AutoUnsubscribeCount,
	}
}

// limitsRecord is the YAML form of the config record. Times are seconds.
type limitsRecord struct {
	MaxMembers           *int   `yaml:"max_members,omitempty"`
	MaxMailLength        *int64 `yaml:"max_mail_length,omitempty"`
	MLLifeTime           *int64 `yaml:"ml_life_time,omitempty"`
	MLAlertTime          *int64 `yaml:"ml_alert_time,omitempty"`
	AutoUnsubscribeCount *int   `yaml:"auto_unsubscribe_count,omitempty"`
}

// overlay applies the fields present in the record to defaults.
func (r limitsRecord) overlay(defaults Limits) Limits {
	l := defaults
	if r.MaxMembers != nil {
		l.MaxMembers = *r.MaxMembers
	}
	if r.MaxMailLength != nil {
		l.MaxMailLength = *r.MaxMailLength
	}
	if r.MLLifeTime != nil {
		l.LifeTime = time.Duration(*r.MLLifeTime) * time.Second
	}
	if r.MLAlertTime != nil {
		l.AlertTime = time.Duration(*r.MLAlertTime) * time.Second
	}
	if r.AutoUnsubscribeCount != nil {
		l.AutoUnsubscribeCount = *r.AutoUnsubscribeCount
	}
	return l
}

func decodeLimits(data []byte, defaults Limits) (Limits, error) {
	var r limitsRecord
	if err := yaml.Unmarshal(data, &r); err != nil {
		return defaults, fmt.Errorf("decode config record: %w", err)
	}
	return r.overlay(defaults), nil
}

func encodeLimits(l Limits) ([]byte, error) {
	lifeTime := int64(l.LifeTime / time.Second)
	alertTime := int64(l.AlertTime / time.Second)
	r := limitsRecord{
		MaxMembers:           &l.MaxMembers,
		MaxMailLength:        &l.MaxMailLength,
		MLLifeTime:           &lifeTime,
		MLAlertTime:          &alertTime,
		AutoUnsubscribeCount: &l.AutoUnsubscribeCount,
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode config record: %w", err)
	}
	return data, nil
}

// firstLine returns the first line of a record, trimmed.
func firstLine(data []byte) string {
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}
