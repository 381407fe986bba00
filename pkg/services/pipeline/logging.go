package pipeline

import (
	"io"

	"github.com/rs/zerolog"
)

type levelFilter struct {
	w     io.Writer
	level zerolog.Level
}

// LevelFilter writes events at level or above to w and drops the rest. Pair it
// with a logger whose own level is at most Info so the run log still fills
// while the console stays quiet.
func LevelFilter(w io.Writer, level zerolog.Level) zerolog.LevelWriter {
	return levelFilter{w: w, level: level}
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.level {
		return len(p), nil
	}
	return f.w.Write(p)
}
