package filter_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Monthlyaway/linktrack/internal/filter"
	"github.com/stretchr/testify/assert"
)

func TestCodeFilter_NoFalseNegatives(t *testing.T) {
	f := filter.NewCodeFilter(1000, 0.01)

	codes := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		codes = append(codes, fmt.Sprintf("code%03d", i))
	}
	f.Remember(codes[:250]...)
	for _, c := range codes[250:] {
		f.Remember(c)
	}

	for _, c := range codes {
		assert.True(t, f.MayExist(c), c)
	}
	assert.InDelta(t, 500, int(f.Estimate()), 25)
	assert.False(t, f.Saturated())
}

func TestCodeFilter_UnknownCodeUsuallyAbsent(t *testing.T) {
	f := filter.NewCodeFilter(1000, 0.001)
	f.Remember("promo")

	assert.False(t, f.MayExist("definitely-not-added"))
}

func TestCodeFilter_Saturated(t *testing.T) {
	f := filter.NewCodeFilter(100, 0.01)
	for i := 0; i < 400; i++ {
		f.Remember(fmt.Sprintf("code%04d", i))
	}
	assert.True(t, f.Saturated())
}

func TestCodeFilter_ConcurrentAccess(t *testing.T) {
	f := filter.NewCodeFilter(10000, 0.01)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				code := fmt.Sprintf("w%d-%d", i, j)
				f.Remember(code)
				assert.True(t, f.MayExist(code))
			}
		}(i)
	}
	wg.Wait()
}
