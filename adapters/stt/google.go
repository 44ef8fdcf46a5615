package stt

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/kintsugi-app/server/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct{}

// Name implements repositories.SpeechToText
func (g *GoogleSpeechToText) Name() string {
	return "google"
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("unsupported audio encoding: %s", config.Encoding)
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:        encoding,
		SampleRateHertz: int32(config.SampleRate),
		LanguageCode:    config.Language,
	}

	// Final results only, one utterance per listening window
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig,
				InterimResults:  false,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return &GoogleSpeechToTextStream{
		client:     client,
		stream:     stream,
		ctx:        ctx,
		language:   config.Language,
		resultChan: make(chan repositories.Transcription, 1),
		errorChan:  make(chan error, 1),
	}, nil
}

type GoogleSpeechToTextStream struct {
	client         *speech.Client
	stream         speechpb.Speech_StreamingRecognizeClient
	ctx            context.Context
	language       string
	audioReceived  bool
	resultChan     chan repositories.Transcription
	errorChan      chan error
	receiverActive bool
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	// Start the result receiver goroutine only once
	if !g.receiverActive {
		g.receiverActive = true
		go g.receiveResults()
	}

	if len(data) > 0 {
		g.audioReceived = true

		if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: data,
			},
		}); err != nil {
			return fmt.Errorf("failed to send audio data: %w", err)
		}
	}

	return nil
}

func (g *GoogleSpeechToTextStream) End() (repositories.Transcription, error) {
	defer g.cleanup()

	if !g.audioReceived {
		return repositories.Transcription{}, fmt.Errorf("no audio data received")
	}

	// Close the send stream to signal end of audio
	if err := g.stream.CloseSend(); err != nil {
		return repositories.Transcription{}, fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return repositories.Transcription{}, fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorChan:
		if err != nil {
			return repositories.Transcription{}, err
		}
	case result := <-g.resultChan:
		if result.Text == "" {
			return repositories.Transcription{}, fmt.Errorf("no speech detected in audio")
		}
		return result, nil
	}

	return repositories.Transcription{}, fmt.Errorf("unexpected end of transcription")
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	defer close(g.resultChan)
	defer close(g.errorChan)

	var final repositories.Transcription
	final.Language = g.language

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.resultChan <- final
			return
		}
		if err != nil {
			g.errorChan <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		// Only final results carry a usable transcript
		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				best := result.Alternatives[0]
				final.Text = best.Transcript
				confidence := float64(best.Confidence)
				final.Confidence = &confidence
			}
		}
	}
}

func (g *GoogleSpeechToTextStream) cleanup() {
	if g.client != nil {
		g.client.Close()
	}
}

// TranscribeAudio converts audio data to text using Google Cloud Speech-to-Text (non-streaming)
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (repositories.Transcription, error) {
	stream, err := g.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return repositories.Transcription{}, fmt.Errorf("failed to initialize streaming: %w", err)
	}

	if err := stream.Stream(audioData); err != nil {
		return repositories.Transcription{}, fmt.Errorf("failed to stream audio data: %w", err)
	}

	return stream.End()
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
