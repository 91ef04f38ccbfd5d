package app

import (
	"log"

	"github.com/antoniostano/movi/internal/audio"
	"github.com/antoniostano/movi/internal/config"
)

type audioSetup struct {
	transcoder *audio.Transcoder
	detail     string
}

// resolveTranscoder prefers ffmpeg so browser recordings (WebM/Opus) decode; without it
// only WAV recordings are accepted.
func resolveTranscoder(cfg config.Config) audioSetup {
	ff, err := audio.NewFFmpegDecoder(cfg.FFmpegPath)
	if err != nil {
		log.Printf("audio decoder: wav only (%v)", err)
		return audioSetup{
			transcoder: audio.NewTranscoder(audio.WAVDecoder{}),
			detail:     "wav",
		}
	}
	return audioSetup{
		transcoder: audio.NewTranscoder(audio.AutoDecoder{Fallback: ff}),
		detail:     "wav + ffmpeg",
	}
}
