package memory

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// RSSQuery reads the resident set size of the current process from /proc.
// It only works where procfs is mounted; wrap it with Fallback elsewhere.
type RSSQuery struct{}

func (RSSQuery) CurrentUsageBytes() (uint64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, fmt.Errorf("procfs self: %w", err)
	}
	st, err := p.Stat()
	if err != nil {
		return 0, fmt.Errorf("procfs stat: %w", err)
	}
	rss := st.ResidentMemory()
	if rss < 0 {
		return 0, nil
	}
	return uint64(rss), nil
}
