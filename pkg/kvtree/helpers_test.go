package kvtree

import "os"

func truncateToZero(path string) error {
	return os.Truncate(path, 0)
}

func writeRaw(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
