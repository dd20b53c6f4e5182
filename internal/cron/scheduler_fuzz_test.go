package cron

import (
	"testing"

	"github.com/robfig/cron/v3"
)

// FuzzSweepSchedule feeds arbitrary strings through the same 5-field
// parser Start uses, so a malformed schedule in roomd.yaml can only
// ever surface as a startup error.
func FuzzSweepSchedule(f *testing.F) {
	f.Add("*/2 * * * *")
	f.Add("30 3 * * *")
	f.Add("0 0 1 1 *")
	f.Add("* * * * *")
	f.Add("not-a-schedule")
	f.Add("")
	f.Add("61 * * * *")
	f.Add("* * 32 * *")

	f.Fuzz(func(_ *testing.T, expr string) {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		// Parsing must never panic, only return an error.
		_, _ = parser.Parse(expr)
	})
}
