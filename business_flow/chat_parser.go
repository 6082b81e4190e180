package businessflow

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ParsedChatSale is the structured content of a sale notification message
type ParsedChatSale struct {
	TransactionID   string
	NetValue        float64
	CustomerName    string
	CustomerEmail   string
	SaleCode        string
	PaymentPlatform string
	PaymentMethod   string
}

type chatField struct {
	labels    []string
	mandatory bool
	assign    func(out *ParsedChatSale, value string) bool
}

// chatFields is matched against folded labels: lowercase, no accents, punctuation collapsed to spaces
var chatFields = []chatField{
	{
		labels:    []string{"id da transacao", "id transacao", "transacao id", "id da transacao gateway"},
		mandatory: true,
		assign: func(out *ParsedChatSale, v string) bool {
			out.TransactionID = v
			return v != ""
		},
	},
	{
		labels:    []string{"valor liquido", "valor liquido recebido"},
		mandatory: true,
		assign: func(out *ParsedChatSale, v string) bool {
			amount, ok := ParseBRLAmount(v)
			out.NetValue = amount
			return ok
		},
	},
	{
		labels: []string{"nome do cliente", "cliente", "nome"},
		assign: func(out *ParsedChatSale, v string) bool {
			out.CustomerName = v
			return true
		},
	},
	{
		labels: []string{"email", "e mail", "email do cliente"},
		assign: func(out *ParsedChatSale, v string) bool {
			out.CustomerEmail = strings.ToLower(v)
			return true
		},
	},
	{
		labels: []string{"codigo de venda", "codigo da venda", "cod venda"},
		assign: func(out *ParsedChatSale, v string) bool {
			out.SaleCode = v
			return true
		},
	},
	{
		labels: []string{"plataforma pagamento", "plataforma de pagamento"},
		assign: func(out *ParsedChatSale, v string) bool {
			out.PaymentPlatform = v
			return true
		},
	},
	{
		labels: []string{"metodo pagamento", "metodo de pagamento", "forma de pagamento"},
		assign: func(out *ParsedChatSale, v string) bool {
			out.PaymentMethod = v
			return true
		},
	},
}

var chatLabelIndex = func() map[string]int {
	idx := make(map[string]int)
	for i, f := range chatFields {
		for _, l := range f.labels {
			idx[l] = i
		}
	}
	return idx
}()

// ParseChatMessage extracts a sale from "Label: value" lines.
// Missing optional fields stay empty; a missing or unparseable mandatory field yields ErrNotASaleEvent.
func ParseChatMessage(text string) (*ParsedChatSale, error) {
	out := &ParsedChatSale{}
	found := make(map[int]bool, len(chatFields))

	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		i, known := chatLabelIndex[FoldLabel(label)]
		if !known || found[i] {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "*_`~ ")
		if value == "" {
			continue
		}
		if chatFields[i].assign(out, value) {
			found[i] = true
		}
	}

	for i, f := range chatFields {
		if f.mandatory && !found[i] {
			return nil, ErrNotASaleEvent
		}
	}
	return out, nil
}

// FoldLabel lowercases, strips accents and reduces everything but letters and digits to single spaces
func FoldLabel(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, label)
	if err != nil {
		folded = label
	}
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// ParseBRLAmount reads a Brazilian-notation amount such as "R$ 1.234,56" into major units.
// A lone dot followed by exactly three digits is a thousands separator.
func ParseBRLAmount(raw string) (float64, bool) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".,")
	if s == "" {
		return 0, false
	}

	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	case strings.Count(s, ".") == 1:
		if dot := strings.IndexByte(s, '.'); len(s)-dot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return roundCents(v), true
}
