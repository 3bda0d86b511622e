package transfer

// Budget returns how many new transfers may be admitted this pass given the
// persisted downloading and uploading counts. It never goes below zero.
func Budget(downloading, uploading, maxConcurrent int) int {
	free := maxConcurrent - (downloading + uploading)
	if free < 0 {
		return 0
	}

	return free
}
