package sqlinline

const QInsertVersion = `--sql b6e2d8a4-1f7c-4b3e-9a5d-0c8f2e6b4a91
insert into versions(
  id,
  parent_id,
  parent_hash,
  session_id,
  content_hash,
  storage_key,
  kind,
  params_json,
  params_fingerprint,
  label,
  mime,
  width,
  height,
  bytes,
  created_at
) values (
  $1::uuid,
  nullif($2::text, '')::uuid,
  $3::text,
  $4::uuid,
  $5::text,
  $6::text,
  $7::text,
  $8::jsonb,
  $9::text,
  $10::text,
  $11::text,
  $12::int,
  $13::int,
  $14::bigint,
  now()
);
`

const QSelectVersionByID = `--sql 4c9f1b7d-8e2a-4d6c-a3b5-6f0e8d2c7a18
select id, coalesce(parent_id::text, ''), session_id, content_hash, storage_key,
       kind, params_json, params_fingerprint, label, mime, width, height, bytes, created_at
from versions
where id = $1::uuid
limit 1;
`

const QSelectVersionByMemoKey = `--sql e1d5a9c3-4b8f-4e2d-b7a6-9c3f0d5e8b42
select id, coalesce(parent_id::text, ''), session_id, content_hash, storage_key,
       kind, params_json, params_fingerprint, label, mime, width, height, bytes, created_at
from versions
where parent_hash = $1::text
  and kind = $2::text
  and params_fingerprint = $3::text
order by created_at asc
limit 1;
`
