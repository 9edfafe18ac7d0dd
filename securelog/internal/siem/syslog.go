package siem

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// enterpriseID is the private enterprise number in the structured data id.
const enterpriseID = "securelog@32473"

// maxCustomParams bounds the payload fields copied into structured data.
const maxCustomParams = 5

var facilities = map[string]int{
	"kern": 0, "user": 1, "mail": 2, "daemon": 3, "auth": 4, "syslog": 5,
	"lpr": 6, "news": 7, "uucp": 8, "cron": 9, "authpriv": 10, "ftp": 11,
	"ntp": 12, "security": 13, "console": 14, "solaris-cron": 15,
	"local0": 16, "local1": 17, "local2": 18, "local3": 19,
	"local4": 20, "local5": 21, "local6": 22, "local7": 23,
}

// facilityCode resolves a facility name; unknown names fall back to local0.
func facilityCode(name string) int {
	if code, ok := facilities[strings.ToLower(name)]; ok {
		return code
	}
	return facilities["local0"]
}

// syslogSeverity maps the 0-10 level to an RFC 5424 severity.
func syslogSeverity(level int) int {
	switch {
	case level >= 9:
		return 2
	case level >= 7:
		return 3
	case level >= 5:
		return 4
	case level >= 3:
		return 5
	default:
		return 6
	}
}

func priority(facility string, level int) int {
	return facilityCode(facility)*8 + syslogSeverity(level)
}

const syslogTime = "2006-01-02T15:04:05.000Z07:00"

func nilValue(s string) string {
	if s == "" {
		return "-"
	}
	return strings.Map(func(r rune) rune {
		if r <= ' ' || r > '~' {
			return '_'
		}
		return r
	}, s)
}

// header renders everything up to and including MSGID.
func header(facility string, e Event) string {
	return fmt.Sprintf("<%d>1 %s %s %s %s",
		priority(facility, e.Severity),
		e.Timestamp.UTC().Format(syslogTime),
		nilValue(e.SourceHost),
		AppName,
		nilValue(e.ID))
}

var sdEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `]`, `\]`)

// maxSDName is the RFC 5424 SD-NAME length limit.
const maxSDName = 32

func sdName(key string) string {
	name := strings.Map(func(r rune) rune {
		if r == '=' || r == ']' || r == '"' || unicode.IsSpace(r) || r < '!' || r > '~' {
			return '_'
		}
		return r
	}, key)
	if len(name) > maxSDName {
		name = name[:maxSDName]
	}
	return name
}

func structuredData(e Event) string {
	var b strings.Builder
	b.WriteString("[" + enterpriseID)
	fmt.Fprintf(&b, ` eventType="%s" severity="%s"`, sdEscaper.Replace(e.Type), severityName(e.Severity))
	n := 0
	for _, k := range sortedKeys(e.Raw) {
		if n == maxCustomParams {
			break
		}
		v := e.Raw[k]
		if v == nil {
			continue
		}
		fmt.Fprintf(&b, ` %s="%s"`, sdName(k), sdEscaper.Replace(fmt.Sprint(v)))
		n++
	}
	b.WriteString("]")
	return b.String()
}

// SyslogConnector emits RFC 5424 records.
type SyslogConnector struct {
	facility  string
	transport *streamTransport
}

func NewSyslogConnector(network, address, facility string) (*SyslogConnector, error) {
	t, err := newStreamTransport(network, address)
	if err != nil {
		return nil, err
	}
	return &SyslogConnector{facility: facility, transport: t}, nil
}

func (c *SyslogConnector) Name() string { return "syslog" }

func (c *SyslogConnector) FormatEvent(e Event) ([]byte, error) {
	return []byte(header(c.facility, e) + " " + structuredData(e) + " " + e.Message), nil
}

func (c *SyslogConnector) SendEvent(ctx context.Context, e Event) error {
	return c.SendBatch(ctx, []Event{e})
}

func (c *SyslogConnector) SendBatch(ctx context.Context, events []Event) error {
	msgs := make([][]byte, 0, len(events))
	for _, e := range events {
		m, err := c.FormatEvent(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	return c.transport.write(ctx, msgs...)
}

func (c *SyslogConnector) Close() error {
	return c.transport.close()
}
