package transport

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// maxChunkBytes is the largest single data-channel message this
// transport will ever send, chosen to stay below the SCTP message
// ceiling observed in practice (spec §4.8). One byte of every chunk is
// the continuation flag, so at most maxChunkBytes-1 bytes of payload
// ride in each message.
const maxChunkBytes = 900

const (
	flagMore byte = 0x00
	flagLast byte = 0x01
)

// DataChannelTransport carries binary media frames over a pion/webrtc
// data channel negotiated via SDP offer/answer exchanged on the framed
// reliable channel. The SDP payload itself is opaque to this package;
// CreateOffer/AcceptOffer below only deal with establishing the
// PeerConnection, not the framing that carries the SDP text.
type DataChannelTransport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu      sync.Mutex
	partial []byte

	inbound chan []byte
	closed  chan struct{}
	closeOnce sync.Once
}

// NewDataChannelTransport wraps an open data channel, installing the
// reassembly handler that undoes the chunking Send performs.
func NewDataChannelTransport(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *DataChannelTransport {
	t := &DataChannelTransport{
		pc:      pc,
		dc:      dc,
		inbound: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
	dc.OnMessage(t.onMessage)
	dc.OnClose(func() { t.Close() })
	return t
}

func (t *DataChannelTransport) onMessage(msg webrtc.DataChannelMessage) {
	if len(msg.Data) < 1 {
		return // malformed chunk: no flag byte; drop silently, per spec's "never fatal"
	}
	flag := msg.Data[0]
	body := msg.Data[1:]

	t.mu.Lock()
	t.partial = append(t.partial, body...)
	if flag == flagLast {
		frame := t.partial
		t.partial = nil
		t.mu.Unlock()
		select {
		case t.inbound <- frame:
		case <-t.closed:
		default:
			// Inbound queue full: drop the oldest frame, favoring freshness
			// (spec §4.10 fan-out policy, applied symmetrically here).
			select {
			case <-t.inbound:
			default:
			}
			select {
			case t.inbound <- frame:
			default:
			}
		}
		return
	}
	t.mu.Unlock()
}

// Send splits frame into <=maxChunkBytes data-channel messages and
// sends them in order. The SCTP channel this library negotiates is
// ordered and reliable by default, so chunks arrive and reassemble in
// the order they were sent.
func (t *DataChannelTransport) Send(_ context.Context, frame []byte) error {
	if len(frame) == 0 {
		return t.dc.Send([]byte{flagLast})
	}
	const bodyMax = maxChunkBytes - 1
	for off := 0; off < len(frame); off += bodyMax {
		end := off + bodyMax
		if end > len(frame) {
			end = len(frame)
		}
		flag := flagMore
		if end == len(frame) {
			flag = flagLast
		}
		buf := make([]byte, 0, end-off+1)
		buf = append(buf, flag)
		buf = append(buf, frame[off:end]...)
		if err := t.dc.Send(buf); err != nil {
			return err
		}
	}
	return nil
}

// Recv blocks for the next fully reassembled inbound frame.
func (t *DataChannelTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the data channel and its backing peer connection.
func (t *DataChannelTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	_ = t.dc.Close()
	if t.pc != nil {
		return t.pc.Close()
	}
	return nil
}

// Kind reports KindDataChannel.
func (t *DataChannelTransport) Kind() Kind { return KindDataChannel }

// NewPeerConnection builds a pion PeerConnection configured with the
// given ICE servers, ready to either create an offer (caller side) or
// accept one (answerer side). The routing core treats the SDP it
// carries as an opaque string transported over a FramedTransport.
func NewPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

// CreateOffer creates a local data channel, generates an SDP offer,
// and blocks until ICE gathering completes (so the returned SDP is
// complete and needs no trickle signaling), per the framed channel's
// one-shot offer/answer exchange.
func CreateOffer(pc *webrtc.PeerConnection, label string) (*webrtc.DataChannel, webrtc.SessionDescription, error) {
	dc, err := pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, webrtc.SessionDescription{}, err
	}
	<-gatherComplete
	return dc, *pc.LocalDescription(), nil
}

// AcceptOffer answers a remote SDP offer and blocks until ICE
// gathering completes. The caller should register OnDataChannel on pc
// before calling this, to receive the remote-created channel.
func AcceptOffer(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gatherComplete
	return *pc.LocalDescription(), nil
}
