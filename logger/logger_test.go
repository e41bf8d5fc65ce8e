package logger

import (
	"os"
	"testing"
	"time"
)

func TestLog(t *testing.T) {
	t.Run("test info", func(t *testing.T) {
		Infof("test info, args=%s", "hello")
	})

	t.Run("test set up", func(t *testing.T) {
		Setup(DefaultSettings(os.TempDir()))

		Infof("test info, args=%s", "world")
		time.Sleep(time.Second)
	})

}
