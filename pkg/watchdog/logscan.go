package watchdog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"landscraper/pkg/scraper"
)

// LogStatus is the verdict drawn from the newest run log
type LogStatus string

const (
	LogMissing    LogStatus = "missing"
	LogCompleted  LogStatus = "completed"
	LogCrashed    LogStatus = "crashed"
	LogStalled    LogStatus = "stalled"
	LogInProgress LogStatus = "in_progress"
	LogUnreadable LogStatus = "unreadable"
)

// crashSignatures match Go runtime crashes, fatal log events and kills
var crashSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^panic: `),
	regexp.MustCompile(`goroutine \d+ \[running\]`),
	regexp.MustCompile(`(?m)^fatal error: `),
	regexp.MustCompile(`"level":"(fatal|panic)"`),
	regexp.MustCompile(`\bKilled\b`),
	regexp.MustCompile(`Traceback \(most recent call last\)`),
}

// legacyTimestamp prefixes lines of plain text logs
const legacyTimestamp = "2006-01-02 15:04:05"

// LogReport describes the inspected log
type LogReport struct {
	Status    LogStatus
	Path      string
	Signature string
	LastEntry time.Time
	Err       error
}

// NewestLog returns the lexically greatest file matching pattern in dir.
// Run logs carry a sortable timestamp in their name.
func NewestLog(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// InspectLog classifies a run log. stdioPath, when it exists and was written
// no earlier than the run log, is searched for crash signatures as well:
// runtime crash output never reaches the structured log.
func InspectLog(path, stdioPath string, now time.Time, staleAfter time.Duration) LogReport {
	report := LogReport{Path: path}

	content, err := os.ReadFile(path)
	if err != nil {
		report.Status = LogUnreadable
		report.Err = err
		return report
	}
	text := string(content)

	if strings.Contains(text, scraper.CompletedMessage) && strings.Contains(text, scraper.ProcessedPrefix) {
		report.Status = LogCompleted
		return report
	}

	if sig := findCrash(text); sig != "" {
		report.Status = LogCrashed
		report.Signature = sig
		return report
	}
	if stdio := recentStdio(path, stdioPath); stdio != "" {
		if sig := findCrash(stdio); sig != "" {
			report.Status = LogCrashed
			report.Signature = sig
			report.Path = stdioPath
			return report
		}
	}

	report.LastEntry = lastTimestamp(strings.NewReader(text))
	if !report.LastEntry.IsZero() && now.Sub(report.LastEntry) > staleAfter {
		report.Status = LogStalled
		return report
	}

	report.Status = LogInProgress
	return report
}

func findCrash(text string) string {
	for _, re := range crashSignatures {
		if re.MatchString(text) {
			return re.String()
		}
	}
	return ""
}

// recentStdio returns the part of the stdio log written by the latest launch,
// or "" when the file is absent or older than the run log
func recentStdio(runLog, stdioPath string) string {
	if stdioPath == "" {
		return ""
	}
	stdioInfo, err := os.Stat(stdioPath)
	if err != nil {
		return ""
	}
	runInfo, err := os.Stat(runLog)
	if err != nil || stdioInfo.ModTime().Before(runInfo.ModTime().Add(-time.Second)) {
		return ""
	}

	data, err := os.ReadFile(stdioPath)
	if err != nil {
		return ""
	}
	text := string(data)
	if i := strings.LastIndex(text, " launching "); i >= 0 {
		text = text[strings.LastIndex(text[:i], "\n")+1:]
	}
	return text
}

// lastTimestamp returns the newest line timestamp. JSON lines use their
// "time" field; plain lines may start with "YYYY-mm-dd HH:MM:SS".
func lastTimestamp(r io.Reader) time.Time {
	var last time.Time
	reader := bufio.NewReader(r)

	for {
		line, err := reader.ReadString('\n')
		if ts, ok := lineTimestamp(strings.TrimSpace(line)); ok && ts.After(last) {
			last = ts
		}
		if err != nil {
			return last
		}
	}
}

func lineTimestamp(line string) (time.Time, bool) {
	if line == "" {
		return time.Time{}, false
	}

	if line[0] == '{' {
		var entry struct {
			Time string `json:"time"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil || entry.Time == "" {
			return time.Time{}, false
		}
		ts, err := time.Parse(time.RFC3339Nano, entry.Time)
		return ts, err == nil
	}

	if len(line) < len(legacyTimestamp) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(legacyTimestamp, line[:len(legacyTimestamp)], time.Local)
	return ts, err == nil
}

func (r LogReport) String() string {
	switch r.Status {
	case LogCrashed:
		return fmt.Sprintf("%s (%s)", r.Status, r.Signature)
	case LogStalled:
		return fmt.Sprintf("%s since %s", r.Status, r.LastEntry.Format(time.RFC3339))
	default:
		return string(r.Status)
	}
}
