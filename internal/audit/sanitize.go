package audit

import "regexp"

// Redacted — маркер, которым заменяется всё похожее на секрет.
const Redacted = "[REDACTED]"

// Порядок важен: сначала целые токены (JWT, Bearer), потом ключ=значение.
// Иначе "token" съест префикс и хвост JWT останется в журнале.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]*)?`),
	regexp.MustCompile(`\b[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`),
}

// Ключ (возможно в кавычках, как в JSON), разделитель и значение.
// Значение в кавычках съедается целиком, вместе с пробелами внутри.
var sensitiveKeyValue = regexp.MustCompile(
	`(?i)("?(?:password|passwd|token|secret|api[_-]?key)"?(?:\s*[:=]\s*|\s+))("[^"]*"?|'[^']*'?|[^\s,;}"']+)`)

// Sanitize вычищает из details пароли, токены, секреты и API-ключи.
func Sanitize(details string) string {
	if details == "" {
		return details
	}
	out := details
	for _, p := range sensitivePatterns {
		out = p.ReplaceAllString(out, Redacted)
	}
	return sensitiveKeyValue.ReplaceAllString(out, "${1}"+Redacted)
}
