package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"mytube-pipeline/entities"
	"mytube-pipeline/storage"
)

type Resolution struct {
	Width     int
	Height    int
	Bitrate   string
	AudioRate string
}

// HLS rendition ladder.
var resolutions = []Resolution{
	{Width: 256, Height: 144, Bitrate: "200k", AudioRate: "64k"},
	{Width: 640, Height: 360, Bitrate: "800k", AudioRate: "96k"},
	{Width: 854, Height: 480, Bitrate: "1500k", AudioRate: "128k"},
	{Width: 1280, Height: 720, Bitrate: "3000k", AudioRate: "192k"},
	{Width: 1920, Height: 1080, Bitrate: "5000k", AudioRate: "192k"},
}

// hlsEncoder transcodes the source object into an HLS ladder and
// uploads the playlists/segments next to the source.
type hlsEncoder struct {
	blobs storage.BlobStore
}

func NewHLSEncoder(blobs storage.BlobStore) Encoder {
	return &hlsEncoder{blobs: blobs}
}

func (e *hlsEncoder) Run(ctx context.Context, video *entities.Video, report func(int)) (*EncodeResult, error) {
	if video.ObjectPath == nil {
		return nil, Permanent(fmt.Errorf("video %s has no source object", video.ID))
	}

	tempDir := filepath.Join("temp", "transcode", video.ID.String())
	defer os.RemoveAll(tempDir)
	inputDir := filepath.Join(tempDir, "input")
	outputDir := filepath.Join(tempDir, "output")
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, Permanent(err)
		}
	}

	inputFilepath := filepath.Join(inputDir, filepath.Base(*video.ObjectPath))
	if err := e.blobs.GetFile(ctx, *video.ObjectPath, inputFilepath); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to download source object")
		return nil, err
	}
	report(10)

	if err := transcodeToHLS(ctx, inputFilepath, outputDir); err != nil {
		// ffmpeg rejecting the input means the input is bad; retrying
		// cannot help.
		return nil, Permanent(err)
	}
	report(70)

	if err := createMasterPlaylist(outputDir); err != nil {
		return nil, Permanent(err)
	}

	remotePrefix := fmt.Sprintf("videos/%s/hls", video.ID)
	if err := uploadDirectory(ctx, e.blobs, outputDir, remotePrefix); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to upload transcoded output")
		return nil, err
	}
	report(100)

	return &EncodeResult{PlaybackURL: remotePrefix + "/master.m3u8"}, nil
}

// thumbnailEncoder grabs a single frame early in the video.
type thumbnailEncoder struct {
	blobs storage.BlobStore
}

func NewThumbnailEncoder(blobs storage.BlobStore) Encoder {
	return &thumbnailEncoder{blobs: blobs}
}

func (e *thumbnailEncoder) Run(ctx context.Context, video *entities.Video, report func(int)) (*EncodeResult, error) {
	if video.ObjectPath == nil {
		return nil, Permanent(fmt.Errorf("video %s has no source object", video.ID))
	}

	tempDir := filepath.Join("temp", "thumbnail", video.ID.String())
	defer os.RemoveAll(tempDir)
	if err := os.MkdirAll(tempDir, os.ModePerm); err != nil {
		return nil, Permanent(err)
	}

	inputFilepath := filepath.Join(tempDir, filepath.Base(*video.ObjectPath))
	if err := e.blobs.GetFile(ctx, *video.ObjectPath, inputFilepath); err != nil {
		return nil, err
	}
	report(30)

	thumbPath := filepath.Join(tempDir, "thumbnail.jpg")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", "00:00:01",
		"-i", inputFilepath,
		"-frames:v", "1",
		"-q:v", "2",
		thumbPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		zerolog.Ctx(ctx).Error().Str("output", string(output)).Msg("ffmpeg thumbnail failed")
		return nil, Permanent(fmt.Errorf("ffmpeg thumbnail failed: %w", err))
	}
	report(70)

	remotePath := fmt.Sprintf("videos/%s/thumbnail.jpg", video.ID)
	if err := e.blobs.PutFile(ctx, remotePath, thumbPath); err != nil {
		return nil, err
	}
	report(100)

	return &EncodeResult{ThumbnailPath: remotePath}, nil
}

// metadataEncoder probes the source for its duration.
type metadataEncoder struct {
	blobs storage.BlobStore
}

func NewMetadataEncoder(blobs storage.BlobStore) Encoder {
	return &metadataEncoder{blobs: blobs}
}

func (e *metadataEncoder) Run(ctx context.Context, video *entities.Video, report func(int)) (*EncodeResult, error) {
	if video.ObjectPath == nil {
		return nil, Permanent(fmt.Errorf("video %s has no source object", video.ID))
	}

	tempDir := filepath.Join("temp", "metadata", video.ID.String())
	defer os.RemoveAll(tempDir)
	if err := os.MkdirAll(tempDir, os.ModePerm); err != nil {
		return nil, Permanent(err)
	}

	inputFilepath := filepath.Join(tempDir, filepath.Base(*video.ObjectPath))
	if err := e.blobs.GetFile(ctx, *video.ObjectPath, inputFilepath); err != nil {
		return nil, err
	}
	report(50)

	duration, err := probeDuration(ctx, inputFilepath)
	if err != nil {
		return nil, Permanent(err)
	}
	report(100)

	return &EncodeResult{DurationSec: duration}, nil
}

func transcodeToHLS(ctx context.Context, inputFilepath, outputDir string) error {
	var filterComplexBuilder strings.Builder
	for _, r := range resolutions {
		filterComplexBuilder.WriteString(
			fmt.Sprintf("[0:v]scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2[v%d]; ",
				r.Width, r.Height, r.Width, r.Height, r.Height))
	}

	ffmpegArgs := []string{
		"-i", inputFilepath,
		"-filter_complex", strings.TrimSuffix(filterComplexBuilder.String(), "; "),
	}

	for _, r := range resolutions {
		playlistName := fmt.Sprintf("%dp.m3u8", r.Height)
		segmentName := fmt.Sprintf("%dp_%%03d.ts", r.Height)

		ffmpegArgs = append(ffmpegArgs,
			"-map", fmt.Sprintf("[v%d]", r.Height),
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "22",
			"-b:v", r.Bitrate,
			"-maxrate", r.Bitrate,
			"-bufsize", r.Bitrate,
			"-f", "hls",
			"-hls_time", "6",
			"-hls_playlist_type", "vod",
			"-hls_segment_filename", filepath.Join(outputDir, segmentName),
			filepath.Join(outputDir, playlistName),
		)
	}

	highestAudioRate := resolutions[len(resolutions)-1].AudioRate
	ffmpegArgs = append(ffmpegArgs,
		"-map", "0:a:0?",
		"-c:a", "aac",
		"-b:a", highestAudioRate,
		"-f", "hls",
		"-hls_time", "6",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "audio_%03d.ts"),
		filepath.Join(outputDir, "audio.m3u8"))

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("output", string(output)).Msg("ffmpeg transcode failed")
		return fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	return nil
}

func createMasterPlaylist(outputDir string) error {
	masterPlaylistPath := filepath.Join(outputDir, "master.m3u8")
	var contentBuilder strings.Builder
	contentBuilder.WriteString("#EXTM3U\n")
	contentBuilder.WriteString("#EXT-X-VERSION:3\n\n")
	contentBuilder.WriteString(`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="English",DEFAULT=YES,AUTOSELECT=YES,URI="audio.m3u8"` + "\n\n")

	for _, r := range resolutions {
		var videoBitrateBPS int
		fmt.Sscanf(r.Bitrate, "%dk", &videoBitrateBPS)

		var audioBitrateBPS int
		fmt.Sscanf(r.AudioRate, "%dk", &audioBitrateBPS)

		totalBandwidth := (videoBitrateBPS + audioBitrateBPS) * 1000

		playlistName := fmt.Sprintf("%dp.m3u8", r.Height)
		contentBuilder.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"avc1.640028,mp4a.40.2\",AUDIO=\"audio\"\n", totalBandwidth, r.Width, r.Height))
		contentBuilder.WriteString(playlistName + "\n")
	}

	return os.WriteFile(masterPlaylistPath, []byte(contentBuilder.String()), 0644)
}

func uploadDirectory(ctx context.Context, blobs storage.BlobStore, localPath, remotePrefix string) error {
	return filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relativePath, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}

		objectName := filepath.Join(remotePrefix, relativePath)
		objectName = strings.ReplaceAll(objectName, "\\", "/")
		return blobs.PutFile(ctx, objectName, path)
	})
}

func probeDuration(ctx context.Context, inputFilepath string) (int, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputFilepath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", output, err)
	}
	return int(seconds + 0.5), nil
}
