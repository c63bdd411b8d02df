package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/snaptracks/internal/audio"
	"github.com/satindergrewal/snaptracks/internal/nowplaying"
)

const opusBitrate = 128000

// NowPlayingFunc reports the track of the open session. ok is false when no
// session is open.
type NowPlayingFunc func() (info nowplaying.Info, ok bool)

// offerAnswer is the SDP answer plus the track the peer was bound to.
type offerAnswer struct {
	Type  webrtc.SDPType  `json:"type"`
	SDP   string          `json:"sdp"`
	Track nowplaying.Info `json:"track"`
}

type peer struct {
	pc     *webrtc.PeerConnection
	songID string
	done   chan struct{} // closed when the peer is removed
}

// WebRTCHandler negotiates Opus peers for the now-playing track. Each peer is
// bound to the song that was playing when it connected and is dropped when
// that song's session closes; the client then negotiates again.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	streamID    string
	nowPlaying  NowPlayingFunc

	mu    sync.Mutex
	peers []peer
}

// NewWebRTCHandler creates the offer handler. streamID is the media stream
// label shared by every peer's track.
func NewWebRTCHandler(b *Broadcaster, streamID string, nowPlaying NowPlayingFunc) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		streamID:    streamID,
		nowPlaying:  nowPlaying,
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// ClosePeers disconnects every peer bound to songID.
func (h *WebRTCHandler) ClosePeers(songID string) {
	h.mu.Lock()
	var closing []*webrtc.PeerConnection
	kept := h.peers[:0]
	for _, p := range h.peers {
		if p.songID == songID {
			close(p.done)
			closing = append(closing, p.pc)
		} else {
			kept = append(kept, p)
		}
	}
	h.peers = kept
	h.mu.Unlock()

	for _, pc := range closing {
		if err := pc.Close(); err != nil {
			logrus.WithError(err).Debug("WebRTC: error closing peer")
		}
	}
	if len(closing) > 0 {
		logrus.WithFields(logrus.Fields{
			"song_id": songID,
			"closed":  len(closing),
		}).Info("Session closed, dropped WebRTC peers")
	}
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	info, ok := h.current()
	if !ok {
		http.Error(w, "nothing is playing", http.StatusConflict)
		return
	}

	pc, track, err := h.negotiate(offer, info)
	if err != nil {
		logrus.WithError(err).Warn("WebRTC: negotiation failed")
		http.Error(w, "negotiation failed", http.StatusBadRequest)
		return
	}

	p := peer{pc: pc, songID: info.SongID, done: make(chan struct{})}
	h.mu.Lock()
	h.peers = append(h.peers, p)
	h.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"song_id": info.SongID, "title": info.Title})
	log.WithField("total", h.PeerCount()).Info("WebRTC peer connected")

	go h.streamToPeer(p.done, track)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	local := pc.LocalDescription()
	json.NewEncoder(w).Encode(offerAnswer{Type: local.Type, SDP: local.SDP, Track: info})
}

func (h *WebRTCHandler) current() (nowplaying.Info, bool) {
	if h.nowPlaying == nil {
		return nowplaying.Info{}, false
	}
	return h.nowPlaying()
}

// negotiate answers offer with a peer carrying one Opus track labelled with
// the song ID. It returns once ICE gathering is complete.
func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription, info nowplaying.Info) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, err
	}

	trackID := info.SongID
	if trackID == "" {
		trackID = "audio"
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, trackID, h.streamID)
	if err != nil {
		pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, nil, err
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.removePeer(pc) {
				pc.Close()
				logrus.WithField("remaining", h.PeerCount()).Info("WebRTC peer disconnected")
			}
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, nil, err
	}
	<-gathered
	return pc, track, nil
}

func (h *WebRTCHandler) streamToPeer(done <-chan struct{}, track *webrtc.TrackLocalStaticSample) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		logrus.WithError(err).Error("WebRTC: opus encoder error")
		return
	}
	enc.SetBitrate(opusBitrate)

	buf := make([]byte, 4000)
	for {
		select {
		case <-done:
			return
		case <-listener.done:
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, buf)
			if err != nil {
				logrus.WithError(err).Warn("WebRTC: opus encode error")
				continue
			}
			if err := track.WriteSample(media.Sample{Data: buf[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

// removePeer reports whether pc was still registered.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p.pc == pc {
			close(p.done)
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return true
		}
	}
	return false
}
