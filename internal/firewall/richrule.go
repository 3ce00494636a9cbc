package firewall

import (
	"fmt"
	"strings"
)

// RichRule is the port-relevant subset of a firewalld rich rule.
type RichRule struct {
	Family   string    `json:"family,omitempty"`
	Source   string    `json:"source,omitempty"`
	Invert   bool      `json:"invert,omitempty"`
	Service  string    `json:"service,omitempty"`
	Port     PortRange `json:"port"`
	Protocol Protocol  `json:"protocol,omitempty"`
	Action   string    `json:"action,omitempty"`
	Raw      string    `json:"raw"`
}

// HasPort reports whether the rule targets a specific port.
func (r RichRule) HasPort() bool {
	return r.Port.Start != 0
}

// Denies reports whether the rule rejects or drops matching traffic.
func (r RichRule) Denies() bool {
	return r.Action == "reject" || r.Action == "drop"
}

// ParseRichRule parses rules such as
//
//	rule family="ipv4" source address="10.0.0.0/8" port port="22" protocol="tcp" reject
func ParseRichRule(s string) (RichRule, error) {
	rule := RichRule{Raw: strings.TrimSpace(s)}
	tokens, err := tokenizeRichRule(rule.Raw)
	if err != nil {
		return rule, err
	}
	if len(tokens) == 0 || tokens[0] != "rule" {
		return rule, fmt.Errorf("%w: rich rule must start with \"rule\": %q", ErrMalformedRecord, s)
	}

	element := "rule"
	var portStr, protoStr string
	for _, tok := range tokens[1:] {
		key, val, isAttr := strings.Cut(tok, "=")
		if !isAttr {
			switch tok {
			case "NOT":
				if element == "source" {
					rule.Invert = true
				}
			case "accept", "reject", "drop", "mark":
				rule.Action = tok
				element = tok
			default:
				element = tok
			}
			continue
		}
		val = strings.Trim(val, `"'`)
		switch {
		case element == "rule" && key == "family":
			rule.Family = val
		case element == "source" && (key == "address" || key == "ipset" || key == "mac"):
			rule.Source = val
		case element == "service" && key == "name":
			rule.Service = val
		case element == "port" && key == "port":
			portStr = val
		case element == "port" && key == "protocol":
			protoStr = val
		}
	}

	if portStr != "" {
		rng, err := ParsePortRange(portStr)
		if err != nil {
			return rule, err
		}
		proto, err := ParseProtocol(protoStr)
		if err != nil {
			return rule, err
		}
		rule.Port = rng
		rule.Protocol = proto
	}
	return rule, nil
}

func tokenizeRichRule(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		case r == ' ' || r == '\t':
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote in rich rule %q", ErrMalformedRecord, s)
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
