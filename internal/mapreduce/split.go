package mapreduce

// Split partitions lines into contiguous chunks of at most size lines. The
// last chunk may be shorter. A size of zero or less yields a single chunk.
// Split never returns an empty chunk and returns nil for no lines.
func Split(lines []string, size int) [][]string {
	if len(lines) == 0 {
		return nil
	}
	if size <= 0 || size >= len(lines) {
		return [][]string{lines}
	}
	chunks := make([][]string, 0, (len(lines)+size-1)/size)
	for start := 0; start < len(lines); start += size {
		end := min(start+size, len(lines))
		chunks = append(chunks, lines[start:end:end])
	}
	return chunks
}
