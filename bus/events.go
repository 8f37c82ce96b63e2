package bus

// Event type names, exactly as named in §4.3/§4.6's event catalog.
const (
	EventPrinterStatus       = "printer_status"
	EventPrinterConnected    = "printer_connected"
	EventPrinterDisconnected = "printer_disconnected"

	EventJobCreated          = "job_created"
	EventJobStarted          = "job_started"
	EventJobCompleted        = "job_completed"
	EventJobStatusChanged    = "job_status_changed"
	EventJobUpdate           = "job_update"
	EventJobProgressUpdated  = "job_progress_updated"
	EventJobDeleted          = "job_deleted"

	EventFilesDiscovered     = "files_discovered"
	EventNewFilesFound       = "new_files_found"
	EventFileDownloadComplete = "file_download_complete"

	EventMaterialLowStock = "material_low_stock"
)
