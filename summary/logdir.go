package summary

import (
	"errors"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
)

// RunsDir is the root under which LogDir places experiment directories.
const RunsDir = "runs"

const dateLayout = "2006-01-02"

// LogDir returns runs/<YYYY-MM-DD>/<experiment>/<model>, with /<extra>
// appended when extra is non-empty. The date is taken from now in its own
// location.
func LogDir(now time.Time, experiment, model, extra string) string {
	dir := filepath.Join(RunsDir, now.Format(dateLayout), experiment, model)
	if extra != "" {
		dir = filepath.Join(dir, extra)
	}
	return dir
}

// CreateWriter opens a Writer rooted at LogDir(time.Now(), experiment, model, extra).
func CreateWriter(experiment, model, extra string) (*Writer, error) {
	if experiment == "" || model == "" {
		return nil, errors.New("summary: experiment and model names are required")
	}

	dir := LogDir(time.Now(), experiment, model, extra)
	klog.Infof("Created SummaryWriter, saving to: %s...", dir)
	return NewWriter(dir)
}
