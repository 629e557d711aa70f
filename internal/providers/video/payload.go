package video

import (
	"fmt"
	"strconv"

	"vidqueue/internal/domain"
)

// WanSize is the fixed frame size sent to the wan family.
const WanSize = "1280*720"

var seedanceAspect = map[string]string{
	"16:9": "widescreen_16_9",
	"9:16": "social_story_9_16",
	"1:1":  "square_1_1",
	"4:3":  "classic_4_3",
	"3:4":  "traditional_3_4",
	"21:9": "film_horizontal_21_9",
	"9:21": "film_vertical_9_21",
}

// SeedanceAspect maps a ratio such as "9:16" to the provider's name for it.
func SeedanceAspect(ratio string) string {
	if v, ok := seedanceAspect[ratio]; ok {
		return v
	}
	return "widescreen_16_9"
}

// BuildPayload assembles the JSON body for a submission. Validation problems
// wrap domain.ErrInvalidJob.
func BuildPayload(spec ModelSpec, imageURL, prompt string, opts domain.Options) (map[string]any, error) {
	duration := opts.String("duration")
	if duration == "" {
		duration = domain.DefaultDuration
	}

	switch spec.Family {
	case FamilyMotionControl:
		driving := opts.String("driving_url")
		if driving == "" {
			driving = opts.String("video_url")
		}
		if driving == "" {
			return nil, fmt.Errorf("%w: motion control needs a driving video", domain.ErrInvalidJob)
		}
		orientation := opts.String("character_orientation")
		if orientation == "" {
			orientation = "video"
		}
		cfg, ok := opts.Float("cfg_scale")
		if !ok {
			cfg = 0.5
		}
		return map[string]any{
			"image_url":             imageURL,
			"video_url":             driving,
			"prompt":                prompt,
			"character_orientation": orientation,
			"cfg_scale":             cfg,
		}, nil

	case FamilySeedance:
		secs, err := seconds(duration)
		if err != nil {
			return nil, err
		}
		ratio := opts.String("aspect_ratio")
		if ratio == "" {
			ratio = domain.DefaultAspectRatio
		}
		return map[string]any{
			"image":          imageURL,
			"prompt":         prompt,
			"duration":       secs,
			"aspect_ratio":   SeedanceAspect(ratio),
			"generate_audio": true,
		}, nil
	}

	var payload map[string]any
	if spec.Family == FamilyPixverse {
		secs, err := seconds(duration)
		if err != nil {
			return nil, err
		}
		payload = map[string]any{
			"image_url":  imageURL,
			"prompt":     prompt,
			"resolution": "720p",
			"duration":   secs,
		}
	} else {
		payload = map[string]any{"image": imageURL, "prompt": prompt}
		if spec.Family == FamilyWan {
			payload["size"] = WanSize
		}
		if spec.UsesDuration() {
			payload["duration"] = duration
		}
	}

	if v := opts.String("negative_prompt"); v != "" {
		payload["negative_prompt"] = v
	}
	if v, ok := opts.Float("cfg_scale"); ok && v != 0 {
		payload["cfg_scale"] = v
	}
	if v := opts.String("aspect_ratio"); v != "" {
		payload["aspect_ratio"] = v
	}
	return payload, nil
}

func seconds(duration string) (int, error) {
	n, err := strconv.Atoi(duration)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: duration %q is not a whole number of seconds", domain.ErrInvalidJob, duration)
	}
	return n, nil
}
