/*
Package storage persists fetched resources as bundles. A Sink opens a
BundleContext per bundle; the context accepts ordered resource writes
and is closed on every exit path, removing any temp files.

Two concrete sinks are provided. FileSink writes a per-bundle directory
with safe-filename-mapped resources, per-resource .meta sidecars, and a
bundle.meta summary. S3Sink writes one object per resource plus a
terminal metadata.json; the metadata object is written last so an
external sweep can treat its absence as the mark of a partial bundle.

Decorators compose from the inside out and preserve streaming:

	sink := storage.NewUnzipDecorator(
		storage.NewBundleZipDecorator(
			storage.NewFileSink(dir)))

UnzipDecorator sniffs gzip and zip payloads and re-streams their
decompressed contents, stripping the compression suffix from the URL.
BundleZipDecorator spools all resources and forwards a single DEFLATE
archive to the inner sink, so the inner sink sees exactly one resource
per bundle.
*/
package storage
