package utils

import (
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

func SetLogLevel(level string) {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		log.Fatal("Bad error level string")
	}
}

// HasArticlePrefix reports whether a title starts with one of the given
// leading articles, compared case-insensitively.
func HasArticlePrefix(title string, articles ...string) (string, bool) {
	upper := strings.ToUpper(title)
	for _, a := range articles {
		if strings.HasPrefix(upper, strings.ToUpper(a)) {
			return a, true
		}
	}
	return "", false
}
