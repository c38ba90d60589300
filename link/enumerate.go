/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Object enumeration fallback ladder
 */

package link

import (
	"bytes"
	"context"

	"github.com/mtpcore/mtptransport/events"
	"github.com/mtpcore/mtptransport/fallback"
	"github.com/mtpcore/mtptransport/mtperr"
	"github.com/mtpcore/mtptransport/ptpdataset"
	"github.com/mtpcore/mtptransport/ptpwire"
)

// ObjectSummary is one entry Enumerate returns: always a handle, plus
// whichever of Info/Props the winning rung was able to produce.
type ObjectSummary struct {
	Handle uint32
	Info   *ptpdataset.ObjectInfo
	Props  []ptpdataset.PropListEntry
}

func (l *Link) enumDisabledNow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enumDisabled
}

func (l *Link) disableEnum() {
	l.mu.Lock()
	l.enumDisabled = true
	l.mu.Unlock()
}

// Enumerate lists every object directly under parent (or every object on
// storage, if parent is nil), preferring GetObjectPropList and falling
// back to individual GetObjectInfo calls when the device doesn't support
// it.
func (l *Link) Enumerate(ctx context.Context, storage uint32, parent *uint32, format uint16) ([]ObjectSummary, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	var rungs []fallback.Rung[[]ObjectSummary]

	if !l.enumDisabledNow() {
		rungs = append(rungs,
			fallback.Rung[[]ObjectSummary]{
				Name:    "proplist_5param",
				Attempt: l.proplistRung(ctx, storage, parent, format, 5),
			},
			fallback.Rung[[]ObjectSummary]{
				Name:    "proplist_3param",
				Attempt: l.proplistRung(ctx, storage, parent, format, 3),
			},
		)
	}

	rungs = append(rungs, fallback.Rung[[]ObjectSummary]{
		Name:    "handles_then_info",
		Attempt: l.handlesThenInfoRung(ctx, storage, parent),
	})

	return fallback.Execute(rungs, mtperr.IsRetryable, func(name string, err error) {
		l.sink.Emit(events.FallbackRungFailed{Name: name, Err: err})
	})
}

func (l *Link) proplistRung(ctx context.Context, storage uint32, parent *uint32, format uint16, nparams int) func() ([]ObjectSummary, error) {
	parentParam := uint32(0xFFFFFFFF)
	if parent != nil {
		parentParam = *parent
	}

	var params []uint32
	switch nparams {
	case 5:
		params = []uint32{parentParam, uint32(format), 0xFFFFFFFF, 0, 0}
	default:
		params = []uint32{parentParam, uint32(format), 0}
	}

	return func() ([]ObjectSummary, error) {
		var buf bytes.Buffer
		resp, err := l.execDataIn(ctx, ptpwire.OpGetObjectPropList, params, &buf)
		if err != nil {
			return nil, err
		}
		if resp.Code != ptpwire.RespOK {
			mtpErr := mtperr.FromResponseCode(resp.Code)
			if _, ok := mtpErr.(*mtperr.NotSupported); ok {
				l.disableEnum()
			}
			return nil, mtpErr
		}

		list := ptpdataset.DecodePropList(buf.Bytes())
		return groupPropListByHandle(list), nil
	}
}

func groupPropListByHandle(list ptpdataset.PropList) []ObjectSummary {
	order := make([]uint32, 0)
	byHandle := make(map[uint32][]ptpdataset.PropListEntry)

	for _, e := range list.Entries {
		if _, ok := byHandle[e.ObjectHandle]; !ok {
			order = append(order, e.ObjectHandle)
		}
		byHandle[e.ObjectHandle] = append(byHandle[e.ObjectHandle], e)
	}

	out := make([]ObjectSummary, 0, len(order))
	for _, h := range order {
		out = append(out, ObjectSummary{Handle: h, Props: byHandle[h]})
	}
	return out
}

func (l *Link) handlesThenInfoRung(ctx context.Context, storage uint32, parent *uint32) func() ([]ObjectSummary, error) {
	return func() ([]ObjectSummary, error) {
		handles, err := l.GetObjectHandles(ctx, storage, parent)
		if err != nil {
			return nil, err
		}

		out := make([]ObjectSummary, 0, len(handles))
		for _, h := range handles {
			info, err := l.GetObjectInfo(ctx, h)
			if err != nil {
				if mtperr.IsRetryable(err) {
					continue
				}
				return nil, err
			}
			infoCopy := info
			out = append(out, ObjectSummary{Handle: h, Info: &infoCopy})
		}

		return out, nil
	}
}
