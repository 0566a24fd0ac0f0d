package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

type PushEvent struct {
	Record   domain.NodeRecord
	Received time.Time
	Origin   string
}

// decodeRecords accepts a bare array or an object wrapping it under "nodes".
// Records that fail validation are skipped.
func decodeRecords(data []byte, logger zerolog.Logger) ([]domain.NodeRecord, error) {
	data = bytes.TrimSpace(data)
	var records []domain.NodeRecord
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Nodes []domain.NodeRecord `json:"nodes"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode node list: %w", err)
		}
		records = wrapped.Nodes
	} else if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode node list: %w", err)
	}
	return validRecords(records, logger), nil
}

func validRecords(records []domain.NodeRecord, logger zerolog.Logger) []domain.NodeRecord {
	out := records[:0]
	for _, record := range records {
		if err := record.Validate(); err != nil {
			logger.Warn().Err(err).Str("id", record.ID.String()).Msg("skipping invalid node record")
			continue
		}
		out = append(out, record)
	}
	return out
}

// decodePushFrame reads either a {"type":"node","node":{...}} envelope or a
// bare node record. Control frames yield ok=false.
func decodePushFrame(data []byte) (domain.NodeRecord, bool, error) {
	var probe struct {
		Type pushMessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.NodeRecord{}, false, fmt.Errorf("decode push frame: %w", err)
	}
	if probe.Type == "" {
		var record domain.NodeRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return domain.NodeRecord{}, false, fmt.Errorf("decode push record: %w", err)
		}
		return record, true, record.Validate()
	}
	if probe.Type != messageNode {
		return domain.NodeRecord{}, false, nil
	}
	var message pushMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return domain.NodeRecord{}, false, fmt.Errorf("decode push message: %w", err)
	}
	if message.Node == nil {
		return domain.NodeRecord{}, false, fmt.Errorf("push message without node")
	}
	return *message.Node, true, message.Node.Validate()
}
