package audit

import (
	"net"
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

const maskToken = "***"

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// MaskForRole returns the entries as a caller with role may see them. Admins get the
// entries unchanged; everyone else gets masked copies. Stored entries are never modified.
func MaskForRole(entries []*models.AuditEntry, role string) []*models.AuditEntry {
	if role == models.RoleAdmin {
		return entries
	}
	out := make([]*models.AuditEntry, len(entries))
	for i, e := range entries {
		masked := e.Clone()
		masked.UserName = MaskName(e.UserName)
		masked.IPAddress = MaskIP(e.IPAddress)
		masked.Details = ScrubEmails(e.Details)
		for field, change := range masked.Changes {
			masked.Changes[field] = models.FieldChange{Before: scrubValue(change.Before), After: scrubValue(change.After)}
		}
		out[i] = masked
	}
	return out
}

// MaskName keeps the first two characters of a name or email local part.
func MaskName(name string) string {
	if name == "" {
		return ""
	}
	if at := strings.LastIndex(name, "@"); at > 0 {
		return prefix(name[:at]) + maskToken + name[at:]
	}
	return prefix(name) + maskToken
}

// MaskEmail masks the local part of an email, e.g. "ad***@bank.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return MaskName(email)
	}
	return prefix(email[:at]) + maskToken + email[at:]
}

func prefix(s string) string {
	r := []rune(s)
	if len(r) > 2 {
		r = r[:2]
	}
	return string(r)
}

// MaskIP keeps the first and last IPv4 octets or the first IPv6 group.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return maskToken
	}
	if v4 := parsed.To4(); v4 != nil && !strings.Contains(ip, ":") {
		parts := strings.Split(ip, ".")
		return parts[0] + ".***.***." + parts[3]
	}
	first := strings.SplitN(ip, ":", 2)[0]
	if first == "" {
		return "::" + maskToken
	}
	return first + ":" + maskToken
}

// ScrubEmails masks every email address embedded in free text.
func ScrubEmails(text string) string {
	return emailPattern.ReplaceAllStringFunc(text, MaskEmail)
}

// scrubValue masks emails in string leaves of a change value. Containers are rebuilt
// rather than edited in place.
func scrubValue(v any) any {
	switch val := v.(type) {
	case string:
		return ScrubEmails(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = ScrubEmails(s)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = scrubValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = scrubValue(item)
		}
		return out
	default:
		return v
	}
}
