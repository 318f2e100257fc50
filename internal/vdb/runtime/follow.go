package runtime

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tail "github.com/hpcloud/tail"
)

// FollowLogFile streams new lines of the persistent build log to stdout until
// interrupted, surviving truncation when a new run starts.
func FollowLogFile(logFile string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	t, err := tail.TailFile(logFile, tail.Config{
		ReOpen:    true,
		Follow:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file: %w", err)
	}
	defer t.Cleanup()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return fmt.Errorf("error reading log file: %w", line.Err)
			}
			fmt.Println(line.Text)
		case <-sigChan:
			return nil
		}
	}
}
