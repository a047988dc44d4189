package handler

import "strconv"

func formatUploadLimit(bytes int64) string {
	const (
		kb int64 = 1024
		mb       = 1024 * kb
	)
	if bytes <= 0 {
		return "0B"
	}
	if bytes < mb {
		return strconv.FormatInt((bytes+kb-1)/kb, 10) + "KB"
	}
	return strconv.FormatInt(bytes/mb, 10) + "MB"
}
