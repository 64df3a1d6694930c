package pipeline

import "pexelsync/pkg/config"

func configUpload(workDir string) config.UploadConfig {
	return config.UploadConfig{WorkDir: workDir, MinFileSize: config.DefaultMinFileSize}
}
