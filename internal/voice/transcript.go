package voice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// writeTranscript renders a transcribe-mode session log and writes it to
// the transcript directory atomically (tmp file, fsync, rename) so a
// crash mid-flush never leaves a truncated transcript behind.
func (o *Orchestrator) writeTranscript(s *Session, lines []transcriptLine) (string, error) {
	dir := o.transcriptDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Transcript for voice channel %s\n", s.ChannelID)
	fmt.Fprintf(&b, "# Session %s to %s\n\n", s.CreatedAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	for _, l := range lines {
		fmt.Fprintf(&b, "[%s] %s: %s\n", l.At.UTC().Format("15:04:05"), l.SpeakerID, l.Text)
	}

	name := fmt.Sprintf("transcript_%s_%s.txt", s.ChannelID, s.CreatedAt.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)
	if err := saveFileAtomic(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// saveFileAtomic writes data to path via a tmp file in the same
// directory, fsyncs, then renames into place.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
