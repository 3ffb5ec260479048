package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSafeFileWriterConcurrentWrites(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "nested", "safe_writer.log")

	writer, err := NewSafeFileWriter(testFile, 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	const goroutines, linesPer = 10, 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < linesPer; j++ {
				_, err := fmt.Fprintf(writer, "goroutine %d line %d\n", id, j)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, writer.Flush())
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, goroutines*linesPer, strings.Count(string(data), "\n"))
}

func TestSafeFileWriterPeriodicFlush(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "slow.log")

	writer, err := NewSafeFileWriter(testFile, 10*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer writer.Close()

	_, err = writer.Write([]byte("first\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(testFile)
		return err == nil && strings.Contains(string(data), "first")
	}, time.Second, 5*time.Millisecond)
}

func TestSafeCSVWriterHeaderOnce(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "attempts.csv")
	header := []string{"timestamp", "attempt", "outcome"}

	for round := 0; round < 2; round++ {
		writer, err := NewSafeCSVWriter(testFile, header, 50*time.Millisecond, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, writer.WriteRecord([]string{"t", fmt.Sprint(round), "confirmed"}))
		records, _ := writer.GetStats()
		assert.Equal(t, uint64(1), records)
		require.NoError(t, writer.Close())
	}

	f, err := os.Open(testFile)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, "0", rows[1][1])
	assert.Equal(t, "1", rows[2][1])
}

func TestSafeCSVWriterConcurrentWrites(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "concurrent.csv")

	writer, err := NewSafeCSVWriter(testFile, nil, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	const goroutines, recordsPer = 5, 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < recordsPer; j++ {
				assert.NoError(t, writer.WriteRecord([]string{fmt.Sprint(id), fmt.Sprint(j)}))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, writer.Close())

	records, _ := writer.GetStats()
	assert.Equal(t, uint64(goroutines*recordsPer), records)
}
