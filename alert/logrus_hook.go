package alert

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// LogrusAlertHook delivers logrus entries at the hooked levels to the dingtalk
// group chat so that data-integrity anomalies and ingestion halts are visible
// to operators.
type LogrusAlertHook struct {
	levels []logrus.Level
}

func NewLogrusAlertHook(lvls []logrus.Level) *LogrusAlertHook {
	return &LogrusAlertHook{levels: lvls}
}

func (hook *LogrusAlertHook) Levels() []logrus.Level {
	return hook.levels
}

func (hook *LogrusAlertHook) Fire(logEntry *logrus.Entry) error {
	formatter := &logrus.JSONFormatter{}
	detailBytes, _ := formatter.Format(logEntry)

	// Trim last newline char to uniform message format
	detail := strings.TrimSuffix(string(detailBytes), "\n")

	return SendDingTalkTextMessage(logEntry.Level.String(), logEntry.Message, detail)
}
