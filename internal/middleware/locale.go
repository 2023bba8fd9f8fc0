package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// CountryLookup resolves ISO country codes for an IP address. Backed by the
// GeoIP resolver in production; nil disables the fallback.
type CountryLookup func(ip string) (string, error)

// countryLocales maps countries onto a preferred locale for requests that
// carry no language hints at all.
var countryLocales = map[string]string{
	"ID": "id",
	"JP": "ja",
	"BR": "pt",
	"DE": "de",
	"FR": "fr",
	"ES": "es",
}

// Locale negotiates the response language. Precedence: explicit X-Locale
// header, Accept-Language negotiation, then the GeoIP country of the client
// address, then the configured default.
func Locale(defaultLocale string, supported []string, lookup CountryLookup) func(http.Handler) http.Handler {
	tags := make([]language.Tag, 0, len(supported)+1)
	tags = append(tags, language.Make(defaultLocale))
	for _, s := range supported {
		if !strings.EqualFold(s, defaultLocale) {
			tags = append(tags, language.Make(s))
		}
	}
	matcher := language.NewMatcher(tags)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := resolveCountry(r, lookup)
			locale := detectLocale(r, matcher, tags, defaultLocale, country, supported)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, country)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, matcher language.Matcher, tags []language.Tag, fallback, country string, supported []string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		_, index, _ := matcher.Match(language.Make(v))
		return baseOf(tags[index])
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		if prefs, _, err := language.ParseAcceptLanguage(accept); err == nil && len(prefs) > 0 {
			_, index, conf := matcher.Match(prefs...)
			if conf > language.No {
				return baseOf(tags[index])
			}
		}
	}
	if locale, ok := countryLocales[country]; ok && contains(supported, locale) {
		return locale
	}
	return fallback
}

// baseOf collapses a supported tag to its base language ("id-ID" -> "id").
func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func resolveCountry(r *http.Request, lookup CountryLookup) string {
	hints := []string{"X-Country-Code", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range hints {
		if v := strings.TrimSpace(r.Header.Get(key)); v != "" {
			return strings.ToUpper(v)
		}
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}
