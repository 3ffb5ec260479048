// internal/swap/journal.go
package swap

import (
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/pool-sniper/internal/logger"
)

const journalFlushInterval = 500 * time.Millisecond

var journalHeader = []string{"timestamp", "wallet", "token", "pool", "attempt", "outcome", "signature", "reason"}

// Journal - CSV-журнал попыток покупки (только добавление).
type Journal struct {
	w    *logger.SafeCSVWriter
	path string
	log  *zap.Logger
}

// OpenJournal открывает журнал; заголовок пишется только в новый файл.
func OpenJournal(path string, log *zap.Logger) (*Journal, error) {
	w, err := logger.NewSafeCSVWriter(path, journalHeader, journalFlushInterval, log)
	if err != nil {
		return nil, err
	}
	return &Journal{w: w, path: path, log: log}, nil
}

// Record добавляет строку о попытке.
func (j *Journal) Record(order Order, poolAddr solana.PublicKey, out Outcome) error {
	signature := ""
	if !out.Signature.IsZero() {
		signature = out.Signature.String()
	}
	reason := ""
	if out.Reason != nil {
		reason = out.Reason.Error()
	}

	return j.w.WriteRecord([]string{
		time.Now().UTC().Format(time.RFC3339Nano),
		order.Wallet.PublicKey.String(),
		order.Target.String(),
		poolAddr.String(),
		strconv.Itoa(out.Attempt),
		out.Kind.String(),
		signature,
		reason,
	})
}

func (j *Journal) Close() error {
	records, _ := j.w.GetStats()
	if err := j.w.Close(); err != nil {
		return err
	}
	j.log.Info("Attempt journal closed", zap.String("path", j.path), zap.Uint64("records", records))
	return nil
}
