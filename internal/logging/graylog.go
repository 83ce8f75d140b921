package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGraylogWriter opens a GELF writer sending UDP datagrams to addr. Each
// Write becomes one GELF message.
func NewGraylogWriter(addr string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("open graylog writer %s: %w", addr, err)
	}
	return w, nil
}
