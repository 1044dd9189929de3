package models

import "strings"

// FileCategory is the coarse content grouping used to decide post-processing.
type FileCategory int

const (
	CategoryVideo  FileCategory = 1
	CategoryMusic  FileCategory = 2
	CategoryImage  FileCategory = 3
	CategoryDoc    FileCategory = 4
	CategoryOthers FileCategory = 5
)

// FileType is the fine-grained content kind derived from the file suffix.
type FileType int

const (
	FileTypeVideo FileType = 1
	FileTypeMusic FileType = 2
	FileTypeImage FileType = 3
	FileTypePDF   FileType = 4
	FileTypeWord  FileType = 5
	FileTypeExcel FileType = 6
	FileTypeTxt   FileType = 7
	FileTypeCode  FileType = 8
	FileTypeZip   FileType = 9
	FileTypeOther FileType = 10
)

type suffixRule struct {
	fileType FileType
	category FileCategory
	suffixes []string
}

var suffixRules = []suffixRule{
	{FileTypeVideo, CategoryVideo, []string{".mp4", ".avi", ".rmvb", ".mkv", ".mov"}},
	{FileTypeMusic, CategoryMusic, []string{".mp3", ".wav", ".wma", ".mp2", ".flac", ".midi", ".ra", ".ape", ".aac", ".cda"}},
	{FileTypeImage, CategoryImage, []string{".jpeg", ".jpg", ".png", ".gif", ".bmp", ".dds", ".psd", ".webp", ".svg", ".tiff"}},
	{FileTypePDF, CategoryDoc, []string{".pdf", ".pptx"}},
	{FileTypeWord, CategoryDoc, []string{".docx"}},
	{FileTypeExcel, CategoryDoc, []string{".xlsx"}},
	{FileTypeTxt, CategoryDoc, []string{".txt"}},
	{FileTypeCode, CategoryOthers, []string{".h", ".c", ".hpp", ".cpp", ".cc", ".cs", ".java", ".class", ".go", ".js", ".ts", ".css", ".scss", ".vue", ".jsx", ".sql", ".md", ".json", ".html", ".xml"}},
	{FileTypeZip, CategoryOthers, []string{".rar", ".zip", ".7z", ".cab", ".arj", ".lzh", ".tar", ".gz", ".bz", ".jar", ".iso"}},
}

// TypeBySuffix maps a file suffix (with leading dot) to its type and category.
// Unknown suffixes map to FileTypeOther/CategoryOthers.
func TypeBySuffix(suffix string) (FileType, FileCategory) {
	suffix = strings.ToLower(suffix)
	for _, rule := range suffixRules {
		for _, s := range rule.suffixes {
			if s == suffix {
				return rule.fileType, rule.category
			}
		}
	}
	return FileTypeOther, CategoryOthers
}

// FileSuffix returns the suffix of a file name including the dot, or "".
func FileSuffix(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx == -1 {
		return ""
	}
	return name[idx:]
}

// NameWithoutSuffix returns the file name with its suffix stripped.
func NameWithoutSuffix(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx == -1 {
		return name
	}
	return name[:idx]
}
