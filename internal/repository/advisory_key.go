package repository

import (
	"crypto/sha256"
	"encoding/binary"

	"pulsecore/internal/domain"
)

func advisoryKey(service string, alertType domain.AlertType) int64 {
	sum := sha256.Sum256([]byte("alert:" + service + ":" + string(alertType)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
