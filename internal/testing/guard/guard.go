package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("TIMBERLINE_TEST_MODE") == "" {
			_ = os.Setenv("TIMBERLINE_TEST_MODE", "1")
		}
	})
}
