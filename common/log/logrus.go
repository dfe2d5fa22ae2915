package log

import (
	"strings"

	E "github.com/sagernet/sing-relay/common/exceptions"

	"github.com/sirupsen/logrus"
)

func init() {
	if formatter, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); ok {
		formatter.FullTimestamp = true
	}
	logrus.AddHook(new(TaggedHook))
}

func NewLogger(tag string) *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("tag", tag)
}

// SetLevel applies a level name such as "info" or "trace" to the standard logger.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return E.Cause(err, "parse log level")
	}
	logrus.SetLevel(parsed)
	return nil
}

type TaggedHook struct{}

func (h *TaggedHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TaggedHook) Fire(entry *logrus.Entry) error {
	if tagObj, loaded := entry.Data["tag"]; loaded {
		tag, isString := tagObj.(string)
		if !isString {
			return nil
		}
		delete(entry.Data, "tag")
		entry.Message = strings.TrimPrefix(entry.Message, tag+": ")
		entry.Message = "[" + tag + "]: " + entry.Message
	}
	return nil
}
