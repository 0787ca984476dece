package sender

import "relaybot/internal/message"

// AlbumLimit is the most items one album call may carry.
const AlbumLimit = 10

// Batch is one outbound call: an album when Album is set, otherwise a single item.
type Batch struct {
	Items []*message.Message
	Album bool
}

// PlanGroup splits album items into platform-compatible calls. Visual kinds
// share albums, audio and documents only group with their own kind, and
// everything else goes out alone. Albums are chunked to AlbumLimit; a chunk
// of one is sent as a single item.
func PlanGroup(items []*message.Message) []Batch {
	if len(items) == 1 {
		return []Batch{{Items: items}}
	}
	var visual, audio, docs, other []*message.Message
	for _, it := range items {
		switch k := it.Kind(); {
		case k.Visual():
			visual = append(visual, it)
		case k == message.KindAudio:
			audio = append(audio, it)
		case k == message.KindDocument:
			docs = append(docs, it)
		default:
			other = append(other, it)
		}
	}

	var out []Batch
	for _, part := range [][]*message.Message{visual, audio, docs} {
		for start := 0; start < len(part); start += AlbumLimit {
			end := min(start+AlbumLimit, len(part))
			chunk := part[start:end]
			out = append(out, Batch{Items: chunk, Album: len(chunk) > 1})
		}
	}
	for _, it := range other {
		out = append(out, Batch{Items: []*message.Message{it}})
	}
	return out
}

// LeadCaption is the caption an album presents on its first item: the first
// non-empty caption among its parts, with the index of the part it came
// from, or -1 when no part has one.
func LeadCaption(items []*message.Message) (message.Caption, int) {
	for i, it := range items {
		if c, ok := it.CaptionOf(); ok && c.Caption != "" {
			return c, i
		}
	}
	return message.Caption{}, -1
}
