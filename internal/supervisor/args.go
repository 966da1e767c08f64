package supervisor

import "github.com/camrelay/camrelay/internal/source"

// BuildArgs assembles the transcoder argv for a source and sink. Both
// paths re-multiplex without re-encoding video; placeholder input is
// paced at realtime and looped forever so the sink never starves.
func BuildArgs(src source.Source, sink string, extra []string) []string {
	args := []string{"-hide_banner", "-nostdin"}
	if src.Kind == source.KindPlaceholder {
		args = append(args, "-re", "-stream_loop", "-1")
	}
	args = append(args, "-i", src.Locator, "-c:v", "copy", "-c:a", "aac")
	args = append(args, extra...)
	args = append(args, "-f", "mpegts", sink)
	return args
}
