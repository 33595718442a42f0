package core

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// FrameSink consumes rendered frames, typically an encoder. The sink runs on
// the recorder's worker goroutine, never on the step loop.
type FrameSink interface {
	WriteFrame(f *Frame) error
	Close() error
}

// FrameRecorder hands frames from the episode runner to a sink over a
// bounded channel. When the sink cannot keep up the newest frame is dropped
// rather than buffered, trading recording fidelity for simulation
// throughput; long training runs disable rendering entirely.
type FrameRecorder struct {
	ch      chan *Frame
	sink    FrameSink
	dropped atomic.Int64
	written atomic.Int64
	wg      sync.WaitGroup

	closeOnce sync.Once
}

func NewFrameRecorder(sink FrameSink, capacity int) *FrameRecorder {
	if capacity <= 0 {
		capacity = 16
	}
	r := &FrameRecorder{
		ch:   make(chan *Frame, capacity),
		sink: sink,
	}
	r.wg.Add(1)
	go r.work()
	return r
}

func (r *FrameRecorder) work() {
	defer r.wg.Done()
	for f := range r.ch {
		if err := r.sink.WriteFrame(f); err != nil {
			// Recording is best effort; a sink error drops the frame.
			r.dropped.Add(1)
			continue
		}
		r.written.Add(1)
	}
}

// Push hands a frame to the worker without blocking.
func (r *FrameRecorder) Push(f *Frame) {
	select {
	case r.ch <- f:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many frames were discarded under backpressure.
func (r *FrameRecorder) Dropped() int64 { return r.dropped.Load() }

// Written reports how many frames reached the sink.
func (r *FrameRecorder) Written() int64 { return r.written.Load() }

// Close drains the queue and closes the sink.
func (r *FrameRecorder) Close() error {
	r.closeOnce.Do(func() { close(r.ch) })
	r.wg.Wait()
	return r.sink.Close()
}

// RawFrameSink writes frames to a single file as length-prefixed grayscale
// buffers. Encoding to a video container is left to external tooling.
type RawFrameSink struct {
	f *os.File
}

func NewRawFrameSink(path string) (*RawFrameSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating frame file")
	}
	return &RawFrameSink{f: f}, nil
}

func (s *RawFrameSink) WriteFrame(fr *Frame) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(fr.Width))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(fr.Height))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(fr.Pixels)))
	if _, err := s.f.Write(hdr[:]); err != nil {
		return err
	}
	_, err := s.f.Write(fr.Pixels)
	return err
}

func (s *RawFrameSink) Close() error { return s.f.Close() }

var _ FrameSink = (*RawFrameSink)(nil)
