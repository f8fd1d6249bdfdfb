// Copyright 2025 The xarb Authors
// This file is part of the xarb library.
//
// The xarb library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The xarb library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the xarb library. If not, see <http://www.gnu.org/licenses/>.

// Package dlq writes rejected opportunities to the dead-letter stream and
// runs the periodic monitor that samples, trims and auto-replays it.
package dlq

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/streams"
	"github.com/nvx-labs/xarb/types"
)

// Stream field names mirror the DLQEntry JSON tags so entries are readable
// from redis-cli without decoding.
const (
	fieldMessageID = "originalMessageId"
	fieldStream    = "originalStream"
	fieldOppID     = "opportunityId"
	fieldOppType   = "opportunityType"
	fieldError     = "error"
	fieldTimestamp = "timestamp"
	fieldService   = "service"
	fieldInstance  = "instanceId"
	fieldPayload   = "originalPayload"
)

// Writer appends dead-letter entries. Exactly one entry is written per
// rejection; entries are immutable once written.
type Writer struct {
	client   streams.Client
	stream   string
	service  string
	instance string
	now      func() time.Time
	log      log.Logger
}

// NewWriter binds the writer to the dead-letter stream.
func NewWriter(client streams.Client, stream, service, instance string) *Writer {
	return &Writer{
		client:   client,
		stream:   stream,
		service:  service,
		instance: instance,
		now:      time.Now,
		log:      log.New("component", "dlq"),
	}
}

// Write appends the entry, stamping timestamp and origin identity.
func (w *Writer) Write(ctx context.Context, e *types.DLQEntry) (string, error) {
	if e.Timestamp == 0 {
		e.Timestamp = w.now().UnixMilli()
	}
	if e.Service == "" {
		e.Service = w.service
	}
	if e.InstanceID == "" {
		e.InstanceID = w.instance
	}
	id, err := w.client.XAdd(ctx, w.stream, entryValues(e))
	if err != nil {
		w.log.Error("Dead-letter write failed", "opportunity", e.OpportunityID, "err", err)
		return "", err
	}
	metrics.DLQEntries.WithLabelValues(e.Code()).Inc()
	w.log.Warn("Opportunity dead-lettered", "opportunity", e.OpportunityID, "code", e.Code(), "entry", id)
	return id, nil
}

func entryValues(e *types.DLQEntry) map[string]string {
	return map[string]string{
		fieldMessageID: e.OriginalMessageID,
		fieldStream:    e.OriginalStream,
		fieldOppID:     e.OpportunityID,
		fieldOppType:   e.OpportunityType,
		fieldError:     e.Error,
		fieldTimestamp: strconv.FormatInt(e.Timestamp, 10),
		fieldService:   e.Service,
		fieldInstance:  e.InstanceID,
		fieldPayload:   e.OriginalPayload,
	}
}

func entryFromValues(values map[string]string) *types.DLQEntry {
	ts, _ := strconv.ParseInt(values[fieldTimestamp], 10, 64)
	return &types.DLQEntry{
		OriginalMessageID: values[fieldMessageID],
		OriginalStream:    values[fieldStream],
		OpportunityID:     values[fieldOppID],
		OpportunityType:   values[fieldOppType],
		Error:             values[fieldError],
		Timestamp:         ts,
		Service:           values[fieldService],
		InstanceID:        values[fieldInstance],
		OriginalPayload:   values[fieldPayload],
	}
}
