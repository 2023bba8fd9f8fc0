package sqlinline

const QInsertAsset = `--sql c4a8f2d6-1e9b-4d3f-a7c5-8b2e0f6d4a91
insert into assets(
  id,
  job_id,
  user_id,
  slot_index,
  storage_key,
  mime,
  bytes,
  width,
  height,
  checksum,
  created_at
) values (
  $1::uuid,
  $2::uuid,
  $3::uuid,
  $4::int,
  $5::text,
  $6::text,
  $7::bigint,
  $8::int,
  $9::int,
  $10::text,
  now()
);
`

const QSelectJobAssets = `--sql 9d3b7f1a-5c2e-4b8d-9f6a-0e4c8a2d7b35
select id, job_id, user_id, slot_index, storage_key, mime, bytes, width, height, checksum, created_at
from assets
where job_id = $1::uuid
order by slot_index asc;
`
