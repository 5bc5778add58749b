package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"archive_server/pkg/httputil"
	"archive_server/pkg/logger"
)

var monthNames = []string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

var (
	downloadURL   string
	downloadList  string
	downloadDest  string
	downloadStart int
)

var download21Cmd = &cobra.Command{
	Use:   "download21",
	Short: "fetch pipermail .txt.gz archives month by month",
	Long: `Downloads the monthly YYYY-Month.txt.gz exports of a pipermail
archive and gunzips them into mbox files named list-YYYY-MM-Month.txt,
ready for "archive import". Missing months are skipped.`,
	RunE: runDownload21,
}

func init() {
	download21Cmd.Flags().StringVar(&downloadURL, "url", "", "base URL of the pipermail archive (required)")
	download21Cmd.Flags().StringVar(&downloadList, "list", "", "list name used in output file names (required)")
	download21Cmd.Flags().StringVar(&downloadDest, "destination", ".", "directory for the mbox files")
	download21Cmd.Flags().IntVar(&downloadStart, "start", 2002, "first year to fetch")
	_ = download21Cmd.MarkFlagRequired("url")
	_ = download21Cmd.MarkFlagRequired("list")
	rootCmd.AddCommand(download21Cmd)
}

func runDownload21(cmd *cobra.Command, args []string) error {
	log := logger.New(logger.Options{Console: true})
	client := httputil.NewClient(httputil.DownloadClientConfig(5 * time.Minute))

	if err := os.MkdirAll(downloadDest, 0o755); err != nil {
		return err
	}

	now := time.Now()
	fetched := 0
	for year := downloadStart; year <= now.Year(); year++ {
		for month := 1; month <= 12; month++ {
			if year == now.Year() && month > int(now.Month()) {
				break
			}
			name := monthNames[month-1]
			url := fmt.Sprintf("%s/%d-%s.txt.gz", downloadURL, year, name)
			dest := filepath.Join(downloadDest,
				fmt.Sprintf("%s-%d-%02d-%s.txt", downloadList, year, month, name))

			ok, err := downloadMonth(client, url, dest)
			if err != nil {
				return fmt.Errorf("download %s: %w", url, err)
			}
			if ok {
				log.Info().Str("file", dest).Msg("downloaded")
				fetched++
			}
		}
	}
	log.Info().Int("months", fetched).Msg("download finished")
	return nil
}

// downloadMonth fetches one month's gzipped mbox. A 404 is a month with no
// traffic, not an error.
func downloadMonth(client *http.Client, url, dest string) (bool, error) {
	resp, err := client.Get(url)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %s", resp.Status)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return false, err
	}
	defer gz.Close()

	f, err := os.Create(dest)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(f, gz); err != nil {
		f.Close()
		os.Remove(dest)
		return false, err
	}
	return true, f.Close()
}
