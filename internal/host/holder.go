package host

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Holder names the process that owns a pass lease. It ends up in the lease
// table and in logs: host and pid point an operator at the process, Run keeps
// a restarted process with a recycled pid from matching its predecessor.
type Holder struct {
	Host string
	PID  int
	Run  string
}

func NewHolder() Holder {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "unknown"
	}

	return Holder{Host: name, PID: os.Getpid(), Run: uuid.NewString()[:8]}
}

func (h Holder) String() string {
	return fmt.Sprintf("%s:%d:%s", h.Host, h.PID, h.Run)
}
