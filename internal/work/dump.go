package work

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// writeDump appends a submission record to the dump directory, one file per
// submission named <height>_<job counter in decimal>.txt. Disabled when no directory is set;
// dump failures are logged and never affect the miner.
func (e *Engine) writeDump(height int64, jobCounter uint64, verdict string, submitErr error, stateDump string) {
	if e.dumpDir == "" {
		return
	}

	if err := os.MkdirAll(e.dumpDir, 0o755); err != nil {
		e.logger.Warn("cannot create submission dump dir", zap.Error(err))
		return
	}

	response := verdict
	if submitErr != nil {
		response = submitErr.Error()
	} else if verdict == "" {
		response = "null (accepted)"
	}

	name := filepath.Join(e.dumpDir, fmt.Sprintf("%d_%d.txt", height, jobCounter))
	body := fmt.Sprintf("Response:\n%s\n\nState:\n%s", response, stateDump)
	if err := os.WriteFile(name, []byte(body), 0o644); err != nil {
		e.logger.Warn("cannot write submission dump", zap.Error(err))
	}
}
