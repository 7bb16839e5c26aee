package logging

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

// RedirectTestLogs redirects the logrus standard logger to output messages via
// t.Logf() for the remaining duration of the current test.
func RedirectTestLogs(t testing.TB) {
	t.Helper()
	var logger = log.StandardLogger()
	var previousOutput = logger.Out
	var previousFormatter = logger.Formatter
	var previousReportCaller = logger.ReportCaller
	var previousLevel = logger.GetLevel()
	log.SetOutput(&testLogWriter{t: t})
	log.SetFormatter(&testLogFormatter{})
	log.SetReportCaller(true)
	log.SetLevel(log.DebugLevel)
	t.Cleanup(func() {
		log.SetOutput(previousOutput)
		log.SetFormatter(previousFormatter)
		log.SetReportCaller(previousReportCaller)
		log.SetLevel(previousLevel)
	})
}

type testLogWriter struct {
	t testing.TB
}

func (w *testLogWriter) Write(p []byte) (n int, err error) {
	if len(p) > 0 {
		w.t.Logf("%s", p)
	}
	return len(p), nil
}

type testLogFormatter struct{}

func (f *testLogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buf = new(bytes.Buffer)
	if entry.Caller != nil {
		fmt.Fprintf(buf, "%s:%d: ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	fmt.Fprintf(buf, "%-5s %s", strings.ToUpper(entry.Level.String()), entry.Message)

	var keys = make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, " %s=%q", k, fmt.Sprint(entry.Data[k]))
	}
	return buf.Bytes(), nil
}
