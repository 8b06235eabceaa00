// If you are AI: This file parses the FLV-tag-body header conventions
// RTMP audio/video messages reuse (ISO 14496-12-ish AVCVIDEOPACKET /
// AUDIODATA headers), grounded on the teacher's flv.IsVideoKeyframe plus
// the FLV spec's AVCPacketType/AACPacketType framing. It replaces the
// teacher's full Tag.Bytes()/mux.go (which built whole FLV files for
// httpflv egress, out of scope for this build) with pure header parsing
// used by the RTMP ingest adapter to recover track identity.
package flv

import "github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

// VideoFrameType returns the frame type nibble (1=key, 2=inter, ...) and
// codec ID nibble of a video message payload.
func VideoFrameType(payload []byte) (frameType, codecID byte) {
	if len(payload) < 1 {
		return 0, 0
	}
	return payload[0] >> 4, payload[0] & 0x0f
}

// IsAVCSequenceHeader reports whether an AVC (H.264) video payload
// carries the AVCDecoderConfigurationRecord (AVCPacketType == 0).
func IsAVCSequenceHeader(payload []byte) bool {
	return len(payload) >= 2 && payload[0]&0x0f == VideoCodecAVC && payload[1] == AVCPacketTypeSequenceHeader
}

// AVCDecoderConfig returns the AVCDecoderConfigurationRecord bytes from
// an AVC sequence-header payload (the 5-byte AVCVIDEOPACKET header is
// stripped: frame/codec byte, AVCPacketType, 3-byte composition time).
func AVCDecoderConfig(payload []byte) []byte {
	if !IsAVCSequenceHeader(payload) || len(payload) <= 5 {
		return nil
	}
	return payload[5:]
}

// AVCCompositionTime returns the signed 24-bit composition time offset
// (PTS - DTS, in the track's timebase) carried by AVC NALU payloads.
func AVCCompositionTime(payload []byte) int32 {
	if len(payload) < 5 {
		return 0
	}
	v := uint32(payload[2])<<16 | uint32(payload[3])<<8 | uint32(payload[4])
	if v&0x800000 != 0 {
		v |= 0xff000000 // sign-extend 24 -> 32 bits
	}
	return int32(v)
}

// AVCNALUs returns the raw AVCC-framed NALU payload (4-byte length
// prefixes, as RTMP carries them) of a non-sequence-header AVC message.
func AVCNALUs(payload []byte) []byte {
	if len(payload) <= 5 {
		return nil
	}
	return payload[5:]
}

// IsAACSequenceHeader reports whether an audio payload carries the
// AudioSpecificConfig (AACPacketType == 0).
func IsAACSequenceHeader(payload []byte) bool {
	return len(payload) >= 2 && payload[0]>>4 == AudioFormatAAC && payload[1] == 0
}

// AudioSpecificConfig returns the raw AudioSpecificConfig bytes from an
// AAC sequence-header payload (the 2-byte AUDIODATA header is stripped).
func AudioSpecificConfig(payload []byte) []byte {
	if !IsAACSequenceHeader(payload) || len(payload) <= 2 {
		return nil
	}
	return payload[2:]
}

// AACRawData returns the raw AAC frame bytes (ADTS-less, raw_data_block)
// of a non-sequence-header AAC message.
func AACRawData(payload []byte) []byte {
	if len(payload) <= 2 {
		return nil
	}
	return payload[2:]
}

// EncodeAVCSequenceHeader builds an AVC sequence-header video tag body
// (AVCPacketType == 0) wrapping an AVCDecoderConfigurationRecord, the
// inverse of AVCDecoderConfig, used by RTMP-push egress to replay a
// track's extradata to a remote origin before any NALU frame.
func EncodeAVCSequenceHeader(avcConfig []byte) []byte {
	body := make([]byte, 5+len(avcConfig))
	body[0] = VideoFrameKeyFrame<<4 | VideoCodecAVC
	body[1] = AVCPacketTypeSequenceHeader
	// composition time is always 0 for a sequence header
	copy(body[5:], avcConfig)
	return body
}

// EncodeAVCNALU builds an AVC NALU video tag body, the inverse of
// AVCNALUs, for a single access unit already framed as AVCC
// (4-byte length-prefixed) NALUs.
func EncodeAVCNALU(nalus []byte, keyframe bool, compositionTime int32) []byte {
	body := make([]byte, 5+len(nalus))
	frameType := byte(VideoFrameInterFrame)
	if keyframe {
		frameType = VideoFrameKeyFrame
	}
	body[0] = frameType<<4 | VideoCodecAVC
	body[1] = AVCPacketTypeNALU
	ct := uint32(compositionTime) & 0x00ffffff
	body[2] = byte(ct >> 16)
	body[3] = byte(ct >> 8)
	body[4] = byte(ct)
	copy(body[5:], nalus)
	return body
}

// EncodeAACSequenceHeader builds an AAC sequence-header audio tag body
// (AACPacketType == 0) wrapping an AudioSpecificConfig, the inverse of
// AudioSpecificConfig.
func EncodeAACSequenceHeader(asc []byte) []byte {
	body := make([]byte, 2+len(asc))
	body[0] = AudioFormatAAC<<4 | audioSoundFormatTail
	body[1] = 0
	copy(body[2:], asc)
	return body
}

// EncodeAACRaw builds an AAC raw-frame audio tag body, the inverse of
// AACRawData.
func EncodeAACRaw(raw []byte) []byte {
	body := make([]byte, 2+len(raw))
	body[0] = AudioFormatAAC<<4 | audioSoundFormatTail
	body[1] = 1
	copy(body[2:], raw)
	return body
}

// audioSoundFormatTail fixes the AUDIODATA header's sound rate/size/type
// bits to 44kHz/16-bit/stereo, the values every AAC-in-FLV encoder in
// practice emits regardless of the AudioSpecificConfig's own rate field.
const audioSoundFormatTail = 0x0f

// ParseAudioSpecificConfigRates extracts sample rate and channel count
// from an AudioSpecificConfig via mediacommon's MPEG-4 audio parser,
// rather than hand-decoding the frequency-index/channel-config bit
// fields here.
func ParseAudioSpecificConfigRates(asc []byte) (sampleRate int, channels int) {
	var cfg mpeg4audio.AudioSpecificConfig
	if err := cfg.Unmarshal(asc); err != nil {
		return 0, 0
	}
	return cfg.SampleRate, int(cfg.ChannelConfig)
}
