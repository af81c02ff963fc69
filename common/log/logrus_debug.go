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
	logrus.StandardLogger().SetFormatter(&logrus.TextFormatter{
		CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
			return "", " " + filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
		},
	})
}
