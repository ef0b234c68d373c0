package wire

import (
	"encoding/binary"
	"sync/atomic"
)

// Encoder splits payloads into wire frames. Each encoded payload gets the
// next frame id, wrapping at 65535. Encoder is safe for concurrent use.
type Encoder struct {
	nextID atomic.Uint32
}

// VideoMeta describes the video extension header.
type VideoMeta struct {
	Codec      VideoCodec
	FrameType  FrameType
	Resolution uint16 // 0: described by the SPS
}

// AudioMeta describes the audio extension header.
type AudioMeta struct {
	Codec      AudioCodec
	SampleRate int
	Channels   uint8
}

// EncodeVideo returns the frames carrying one access unit.
func (e *Encoder) EncodeVideo(payload []byte, meta VideoMeta, timestampMs, absTimeMs int64) [][]byte {
	var ext [mediaExtSize]byte
	ext[0] = byte(meta.Codec)
	ext[1] = byte(meta.FrameType)
	binary.BigEndian.PutUint16(ext[2:], meta.Resolution)
	return e.encode(MsgVideo, ext, payload, timestampMs, absTimeMs)
}

// EncodeAudio returns the frames carrying one audio block.
func (e *Encoder) EncodeAudio(payload []byte, meta AudioMeta, timestampMs, absTimeMs int64) [][]byte {
	ext := [mediaExtSize]byte{byte(meta.Codec), SampleRateCode(meta.SampleRate), meta.Channels, 0}
	return e.encode(MsgAudio, ext, payload, timestampMs, absTimeMs)
}

func (e *Encoder) encode(msg MsgType, mediaExt [mediaExtSize]byte, payload []byte, ts, absTime int64) [][]byte {
	id := uint16(e.nextID.Add(1) - 1)

	if len(payload) <= FragmentThreshold {
		buf := make([]byte, 0, HeaderSize+commonExtSize+mediaExtSize+len(payload))
		buf = appendHeader(buf, msg, FlagHasCommon, ts, commonExtSize+mediaExtSize, len(payload))
		buf = appendCommon(buf, absTime)
		buf = append(buf, mediaExt[:]...)
		return [][]byte{append(buf, payload...)}
	}

	total := (len(payload) + FragmentThreshold - 1) / FragmentThreshold
	frames := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		chunk := payload[i*FragmentThreshold : min((i+1)*FragmentThreshold, len(payload))]
		var buf []byte
		if i == 0 {
			extLen := fragmentExtSize + commonExtSize + mediaExtSize
			buf = make([]byte, 0, HeaderSize+extLen+len(chunk))
			buf = appendHeader(buf, msg, FlagFragment|FlagHasCommon, ts, extLen, len(chunk))
			buf = appendFragment(buf, id, uint16(i), uint16(total))
			buf = appendCommon(buf, absTime)
			buf = append(buf, mediaExt[:]...)
		} else {
			buf = make([]byte, 0, HeaderSize+fragmentExtSize+len(chunk))
			buf = appendHeader(buf, msg, FlagFragment, ts, fragmentExtSize, len(chunk))
			buf = appendFragment(buf, id, uint16(i), uint16(total))
		}
		frames = append(frames, append(buf, chunk...))
	}
	return frames
}

func appendHeader(buf []byte, msg MsgType, flags uint8, ts int64, extLen, payloadLen int) []byte {
	buf = binary.BigEndian.AppendUint16(buf, Magic)
	buf = append(buf, Version, byte(msg), flags)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ts))
	buf = append(buf, byte(extLen))
	buf = binary.BigEndian.AppendUint32(buf, uint32(payloadLen))
	return append(buf, 0, 0)
}

func appendCommon(buf []byte, absTime int64) []byte {
	buf = append(buf, commonExtSize, CommonAbsTime)
	return binary.BigEndian.AppendUint64(buf, uint64(absTime))
}

func appendFragment(buf []byte, id, index, total uint16) []byte {
	buf = binary.BigEndian.AppendUint16(buf, id)
	buf = binary.BigEndian.AppendUint16(buf, index)
	return binary.BigEndian.AppendUint16(buf, total)
}
