//go:build debug

package log

import (
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/sirupsen/logrus"
)

func init() {
	logrus.SetLevel(logrus.TraceLevel)
	logrus.StandardLogger().SetReportCaller(true)
	if formatter, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); ok {
		formatter.CallerPrettyfier = func(frame *runtime.Frame) (function string, file string) {
			return "", " " + filepath.Base(filepath.Dir(frame.File)) + "/" + filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
		}
	}
}
