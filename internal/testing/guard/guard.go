package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("JOBHUNTER_TEST_MODE") == "" {
			_ = os.Setenv("JOBHUNTER_TEST_MODE", "1")
		}
	})
}
