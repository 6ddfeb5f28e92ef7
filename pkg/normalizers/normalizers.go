// Package normalizers provides the field normalization used to build match keys
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// MinPhoneDigits is the shortest digit string accepted as a phone match key.
const MinPhoneDigits = 10

var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("fold_width", FoldWidth)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
	Register("strip_diacritics", StripDiacritics)
}

// Chains used by the match keys, applied left to right.
var (
	EmailChain = []string{"fold_width", "trim", "lowercase"}
	PhoneChain = []string{"fold_width", "digits_only"}
	NameChain  = []string{"fold_width", "lowercase", "strip_diacritics", "alphanumeric"}
)

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// ApplyChain applies the named normalizers in sequence. Unknown names are skipped.
func ApplyChain(value string, names ...string) string {
	for _, name := range names {
		if fn, ok := Get(name); ok {
			value = fn(value)
		}
	}
	return value
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// FoldWidth maps full-width and half-width forms to their canonical width, so "１２" becomes "12".
func FoldWidth(s string) string {
	return width.Fold.String(s)
}

// DigitsOnly keeps only the ASCII digits 0-9
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only letters and digits
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// StripDiacritics decomposes s and drops combining marks, so "São" becomes "Sao".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(s string) string {
	return ApplyChain(s, EmailChain...)
}

// NormalizePhone reduces a phone number to its ASCII digits
func NormalizePhone(s string) string {
	return ApplyChain(s, PhoneChain...)
}

// Fold lowercases, strips diacritics and drops everything but letters and digits.
func Fold(s string) string {
	return ApplyChain(s, NameChain...)
}

// EmailKey returns the email match key, or false when the email is blank.
func EmailKey(email string) (string, bool) {
	key := NormalizeEmail(email)
	return key, key != ""
}

// PhoneKey returns the phone match key, or false when fewer than MinPhoneDigits digits remain.
func PhoneKey(phone string) (string, bool) {
	key := NormalizePhone(phone)
	return key, len(key) >= MinPhoneDigits
}

// NameCityKey returns the company+city match key. Both parts must fold to a non-empty value.
func NameCityKey(companyName, city string) (string, bool) {
	company := Fold(companyName)
	place := Fold(city)
	if company == "" || place == "" {
		return "", false
	}
	return company + "|" + place, true
}
